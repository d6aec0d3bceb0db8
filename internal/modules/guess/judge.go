package guess

import (
	"errors"
	"math/rand/v2"
)

// Verdict — исход сравнения догадки с загаданным числом.
type Verdict int

const (
	Correct Verdict = iota
	TooHigh
	TooLow
)

func (v Verdict) String() string {
	switch v {
	case Correct:
		return "correct"
	case TooHigh:
		return "too_high"
	case TooLow:
		return "too_low"
	default:
		return "unknown"
	}
}

// ErrEmptyRange возвращается для диапазона без чисел.
var ErrEmptyRange = errors.New("judge range is empty")

// DrawFunc возвращает равномерное число из [lo, hi).
type DrawFunc func(lo, hi int) int

// Judge загадывает новое число на каждый вызов; состояния между вызовами нет.
type Judge struct {
	lo, hi int
	draw   DrawFunc
}

// NewJudge создает судью для полуоткрытого диапазона [lo, hi).
// draw == nil означает math/rand/v2.
func NewJudge(lo, hi int, draw DrawFunc) (*Judge, error) {
	if hi-lo < 1 {
		return nil, ErrEmptyRange
	}
	if draw == nil {
		draw = uniform
	}
	return &Judge{lo: lo, hi: hi, draw: draw}, nil
}

func uniform(lo, hi int) int {
	return lo + rand.IntN(hi-lo)
}

// Judge сравнивает guess со свежим случайным числом.
func (j *Judge) Judge(guess int) Verdict {
	return Compare(guess, j.draw(j.lo, j.hi))
}

// Compare — детерминированная часть: guess против загаданного drawn.
func Compare(guess, drawn int) Verdict {
	switch {
	case guess > drawn:
		return TooHigh
	case guess < drawn:
		return TooLow
	default:
		return Correct
	}
}
