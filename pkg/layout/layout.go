// Package layout implements the file-to-object striping arithmetic
// that the osd client treats as an external pure function.
package layout

import "fmt"

// FileLayout mirrors the striping parameters carried on a request at
// submit time (spec's file_layout).
type FileLayout struct {
	StripeUnit  uint64 // bytes per stripe on one object, must be > 0
	StripeCount uint32 // number of objects a stripe is spread over
	ObjectSize  uint64 // bytes per object, a multiple of StripeUnit
}

func (l FileLayout) validate() error {
	if l.StripeUnit == 0 || l.ObjectSize == 0 || l.StripeCount == 0 {
		return fmt.Errorf("layout: stripe_unit, object_size and stripe_count must be non-zero")
	}
	if l.ObjectSize%l.StripeUnit != 0 {
		return fmt.Errorf("layout: object_size must be a multiple of stripe_unit")
	}
	return nil
}

// FileExtentToObject computes which object a file offset lands in and
// how far that object's own extent runs before striping forces a
// split (the boundary new_request must shorten its caller's length
// to). Block index bno is the object's position within the file;
// objOff/objLen describe the portion of the logical extent that maps
// onto that single object.
func FileExtentToObject(l FileLayout, off, length uint64) (bno, objOff, objLen uint64, err error) {
	if err := l.validate(); err != nil {
		return 0, 0, 0, err
	}
	if length == 0 {
		return 0, 0, 0, fmt.Errorf("layout: length must be positive")
	}

	stripesPerObject := l.ObjectSize / l.StripeUnit
	blockNo := off / l.StripeUnit
	stripePos := off % l.StripeUnit
	stripeNo := blockNo / uint64(l.StripeCount)
	objectIdx := blockNo % uint64(l.StripeCount)
	objectSetNo := stripeNo / stripesPerObject

	bno = objectSetNo*uint64(l.StripeCount) + objectIdx
	objOff = (stripeNo%stripesPerObject)*l.StripeUnit + stripePos

	remaining := l.StripeUnit - stripePos
	if remaining > length {
		remaining = length
	}
	objLen = remaining
	return bno, objOff, objLen, nil
}
