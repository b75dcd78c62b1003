package emacore

import (
	"reflect"
	"testing"
)

func TestFilterPeriods_DropsUnderObserved(t *testing.T) {
	// 50 canonical observations: only period 20 has enough look-back.
	got := FilterPeriods(50, []int{20, 100, 200}, 1, AlphaTable)
	if !reflect.DeepEqual(got, []int{20}) {
		t.Errorf("expected [20], got %v", got)
	}
}

func TestFilterPeriods_HorizonRequiresFullSpan(t *testing.T) {
	// Horizon mode on a 7-day timeframe needs tf_days*period daily samples.
	got := FilterPeriods(100, []int{10, 20}, 7, AlphaHorizon)
	if !reflect.DeepEqual(got, []int{10}) {
		t.Errorf("expected [10], got %v", got)
	}
}

func TestFilterPeriods_KeepsAllWhenSufficient(t *testing.T) {
	got := FilterPeriods(500, []int{20, 100, 200}, 1, AlphaTable)
	if !reflect.DeepEqual(got, []int{20, 100, 200}) {
		t.Errorf("expected all periods kept, got %v", got)
	}
}

func TestFilterPeriods_IgnoresNonPositivePeriods(t *testing.T) {
	got := FilterPeriods(500, []int{0, -3, 20}, 1, AlphaTable)
	if !reflect.DeepEqual(got, []int{20}) {
		t.Errorf("expected [20], got %v", got)
	}
}

func TestFilterPeriods_DoesNotMutateInput(t *testing.T) {
	periods := []int{200, 20}
	FilterPeriods(50, periods, 1, AlphaTable)
	if !reflect.DeepEqual(periods, []int{200, 20}) {
		t.Errorf("input slice was mutated: %v", periods)
	}
}
