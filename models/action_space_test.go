package models

import (
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestActionSpace(t *testing.T) {
	Convey("Given the default action space", t, func() {
		as := DefaultActionSpace

		Convey("The derived sizes follow the tier counts", func() {
			So(as.Validate(), ShouldBeNil)
			So(as.Tiers(), ShouldEqual, 3)
			So(as.MaxMutations(), ShouldEqual, 15)
			So(as.HeadSize(), ShouldEqual, 18)
			So(as.OutputSize(), ShouldEqual, 54)
			So(as.ActionLen(), ShouldEqual, 6)
		})

		Convey("Contains rejects mutations beyond the tier's count", func() {
			So(as.Contains([]int{0, 9, 1, 4, 2, 14}), ShouldBeTrue)
			So(as.Contains([]int{0, 9, 1, 5, 2, 14}), ShouldBeFalse)
			So(as.Contains([]int{3, 0, 1, 0, 2, 0}), ShouldBeFalse)
			So(as.Contains([]int{0, 0}), ShouldBeFalse)
		})
	})

	Convey("When the action space is malformed", t, func() {
		for _, as := range []ActionSpace{
			{Slots: 0, MutationCounts: []int{1}},
			{Slots: 1},
			{Slots: 1, MutationCounts: []int{3, 0}},
		} {
			So(errors.Is(as.Validate(), ErrInvalidActionSpace), ShouldBeTrue)
		}
	})
}
