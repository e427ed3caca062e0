package idgen

import "github.com/google/uuid"

// New returns a new globally unique identifier as string. It is implemented
// as a thin wrapper so tests can stub it. Used for address-space and boot
// identifiers; PIDs and TIDs are slot indices and never come from here.

var NewFunc = func() string { return uuid.New().String() }

func New() string { return NewFunc() }
