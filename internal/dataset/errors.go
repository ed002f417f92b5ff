package dataset

import "fmt"

// MissingPoseError is returned when an image has no record in its pose listing.
type MissingPoseError struct {
	Collection Collection
	Class      string
	Image      string
}

func (e *MissingPoseError) Error() string {
	return fmt.Sprintf("no pose record for %s/%s/%s", e.Collection, e.Class, e.Image)
}

// ShapeError is returned when per-class pools do not have the uniform size
// that flattened-index class recovery depends on.
type ShapeError struct {
	Split  string
	Class  string
	Size   int
	Expect int
}

func (e *ShapeError) Error() string {
	if e.Expect == 0 {
		return fmt.Sprintf("%s pool of class %q is empty", e.Split, e.Class)
	}
	return fmt.Sprintf("%s pool of class %q has %d images, expected %d like the other classes",
		e.Split, e.Class, e.Size, e.Expect)
}
