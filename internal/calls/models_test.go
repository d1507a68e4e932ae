package calls

import "testing"

func TestStateTerminal(t *testing.T) {
	terminal := map[State]bool{
		StateReceived:     false,
		StateDownloading:  false,
		StateTranscribing: false,
		StateAnalyzing:    false,
		StateCompleted:    true,
		StateFailed:       true,
	}
	for s, want := range terminal {
		if s.Terminal() != want {
			t.Fatalf("state %q: expected terminal=%v", s, want)
		}
	}
}

func TestStageState(t *testing.T) {
	if StageTranscribing.State() != StateTranscribing {
		t.Fatalf("expected transcribing state")
	}
	if Stage("bogus").State() != StateReceived {
		t.Fatalf("expected unknown stage to map to received")
	}
}

func TestEnumValidity(t *testing.T) {
	if !DirectionInbound.Valid() || !DirectionOutbound.Valid() || Direction("sideways").Valid() {
		t.Fatalf("unexpected direction validity")
	}
	if !SentimentNegative.Valid() || Sentiment("ecstatic").Valid() {
		t.Fatalf("unexpected sentiment validity")
	}
}
