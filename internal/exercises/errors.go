package exercises

import "errors"

var (
	ErrSessionNotFound  = errors.New("exercises: session not found")
	ErrProgramMissing   = errors.New("exercises: no program generated yet")
	ErrUnknownExercise  = errors.New("exercises: unknown exercise id")
	ErrExerciseLocked   = errors.New("exercises: exercise is locked")
	ErrInvalidProgram   = errors.New("exercises: invalid program")
	ErrInvalidForm      = errors.New("exercises: invalid quick form")
	ErrNothingSelected  = errors.New("exercises: no exercise selected for export")
	ErrInvalidAdaptType = errors.New("exercises: unknown adaptation type")
)
