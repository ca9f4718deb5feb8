// Package monclient is the minimal monitor-client collaborator the
// osd client consumes to ask for fresher cluster maps. The real
// monitor session protocol is out of scope; this package only
// specifies the two calls the dispatcher and recovery paths make.
package monclient

import log "github.com/sirupsen/logrus"

// Client requests newer osdmaps and is told when one has been
// installed.
type Client interface {
	RequestOSDMap(epoch uint32)
	GotOSDMap(epoch uint32)
}

// LoggingClient is the default Client: it has no real monitor session
// to talk to, so it just logs the call, the way a component stubbed
// out for a collaborator that is out of scope would.
type LoggingClient struct {
	logger *log.Entry
}

func NewLoggingClient() *LoggingClient {
	return &LoggingClient{logger: log.WithField("component", "monclient")}
}

func (c *LoggingClient) RequestOSDMap(epoch uint32) {
	c.logger.WithField("epoch", epoch).Debug("requesting newer osdmap")
}

func (c *LoggingClient) GotOSDMap(epoch uint32) {
	c.logger.WithField("epoch", epoch).Debug("osdmap installed")
}
