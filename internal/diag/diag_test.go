package diag

import "testing"

func TestOriginsReturnsSortedRecordedOrigins(t *testing.T) {
	c := NewContext(true, false)
	c.RecordEvaluation(0x3000, 0.1, 0, 0, [2]uint64{})
	c.RecordEvaluation(0x1000, 0.1, 0, 0, [2]uint64{})
	c.RecordEvaluation(0x2000, 0.1, 0, 0, [2]uint64{})

	got := c.Origins()
	want := []uint64{0x1000, 0x2000, 0x3000}
	if len(got) != len(want) {
		t.Fatalf("Origins() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Origins()[%d] = 0x%x, want 0x%x", i, got[i], want[i])
		}
	}
}

func TestOriginsEmptyWhenMeanErrorDisabled(t *testing.T) {
	c := NewContext(false, false)
	c.RecordEvaluation(0x1000, 0.1, 0, 0, [2]uint64{})

	if got := c.Origins(); len(got) != 0 {
		t.Errorf("Origins() = %v, want empty when mean-error accumulation is disabled", got)
	}
}

func TestRecordEvaluationTracksMaxRelErrorAndParents(t *testing.T) {
	c := NewContext(true, false)
	c.RecordEvaluation(0x1000, 0.2, 1, 0.05, [2]uint64{0x10, 0x20})
	c.RecordEvaluation(0x1000, 0.5, 3, 0.1, [2]uint64{0x30, 0x40})
	c.RecordEvaluation(0x1000, 0.1, 1, 0.01, [2]uint64{0x50, 0x60})

	st, ok := c.Stats(0x1000)
	if !ok {
		t.Fatal("expected stats for 0x1000")
	}
	if st.Count != 3 {
		t.Errorf("Count = %d, want 3", st.Count)
	}
	if st.MaxRelError != 0.5 {
		t.Errorf("MaxRelError = %g, want 0.5", st.MaxRelError)
	}
	if st.ParentOrigins != [2]uint64{0x30, 0x40} {
		t.Errorf("ParentOrigins = %v, want the pair from the max-error run", st.ParentOrigins)
	}
}

func TestIntroducedErrorSubtractsLargestParentMax(t *testing.T) {
	c := NewContext(true, false)
	c.RecordEvaluation(0x10, 0.2, 0, 0, [2]uint64{})
	c.RecordEvaluation(0x20, 0.3, 0, 0, [2]uint64{})
	c.RecordEvaluation(0x1000, 0.5, 0, 0, [2]uint64{0x10, 0x20})

	got, ok := c.IntroducedError(0x1000)
	if !ok {
		t.Fatal("expected an introduced-error result for 0x1000")
	}
	want := 0.5 - 0.3
	if got != want {
		t.Errorf("IntroducedError(0x1000) = %g, want %g", got, want)
	}
}

func TestIntroducedErrorFalseForUnseenOrigin(t *testing.T) {
	c := NewContext(true, false)
	if _, ok := c.IntroducedError(0x9999); ok {
		t.Error("IntroducedError should report false for an origin with no recorded evaluation")
	}
}
