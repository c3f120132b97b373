//go:build single

package model

// Real is the floating-point type used by the parameter accessors.
type Real = float32
