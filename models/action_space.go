package models

import (
	"errors"
	"fmt"
)

// ActionSpace describes the fuzzer's structured mutation actions: a fixed number of slots,
// each choosing a tier and then a mutation within that tier. MutationCounts[t] is the number
// of legal mutations for tier t.
type ActionSpace struct {
	Slots          int   `yaml:"slots"`
	MutationCounts []int `yaml:"mutationcounts"`
}

// DefaultActionSpace is the fuzzer's layout: safe, structural and chaos tiers.
var DefaultActionSpace = ActionSpace{
	Slots:          3,
	MutationCounts: []int{10, 5, 15},
}

var ErrInvalidActionSpace = errors.New("invalid action space")

func (as ActionSpace) Validate() error {
	if as.Slots < 1 {
		return fmt.Errorf("%w: slots must be positive, got %d", ErrInvalidActionSpace, as.Slots)
	}
	if len(as.MutationCounts) == 0 {
		return fmt.Errorf("%w: no tiers", ErrInvalidActionSpace)
	}
	for tier, count := range as.MutationCounts {
		if count < 1 {
			return fmt.Errorf("%w: tier %d has %d mutations", ErrInvalidActionSpace, tier, count)
		}
	}
	return nil
}

// Tiers is the number of tiers per slot.
func (as ActionSpace) Tiers() int {
	return len(as.MutationCounts)
}

// MaxMutations is the width of every slot's mutation head, the largest tier's count.
func (as ActionSpace) MaxMutations() int {
	widest := 0
	for _, count := range as.MutationCounts {
		if count > widest {
			widest = count
		}
	}
	return widest
}

// HeadSize is the number of logits per slot: tier logits followed by mutation logits.
func (as ActionSpace) HeadSize() int {
	return as.Tiers() + as.MaxMutations()
}

// OutputSize is the policy output width over all slots.
func (as ActionSpace) OutputSize() int {
	return as.Slots * as.HeadSize()
}

// ActionLen is the length of an encoded action: a (tier, mutation) pair per slot.
func (as ActionSpace) ActionLen() int {
	return 2 * as.Slots
}

// Contains reports whether every pair of the action vector is legal.
func (as ActionSpace) Contains(actions []int) bool {
	if len(actions) != as.ActionLen() {
		return false
	}
	for i := 0; i < len(actions); i += 2 {
		tier, mutation := actions[i], actions[i+1]
		if tier < 0 || tier >= as.Tiers() {
			return false
		}
		if mutation < 0 || mutation >= as.MutationCounts[tier] {
			return false
		}
	}
	return true
}
