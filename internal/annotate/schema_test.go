package annotate

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil))
}

func TestParseKindRoundTrip(t *testing.T) {
	for _, k := range Kinds {
		got, err := ParseKind(k.String())
		if err != nil {
			t.Errorf("ParseKind(%q): %v", k.String(), err)
		}
		if got != k {
			t.Errorf("ParseKind(%q) = %v, want %v", k.String(), got, k)
		}
	}
	if _, err := ParseKind("Freestyle_Annotation"); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestKindTaxonomy(t *testing.T) {
	for _, k := range Kinds {
		switch k {
		case KindObjectTracking:
			if k.Level1() != "Perception" {
				t.Errorf("%v Level1 = %q", k, k.Level1())
			}
			if !k.NeedsTracking() {
				t.Errorf("%v should need tracking", k)
			}
		default:
			if k.Level1() != "Understanding" {
				t.Errorf("%v Level1 = %q", k, k.Level1())
			}
			if k.NeedsTracking() {
				t.Errorf("%v should not need tracking", k)
			}
		}
		if k.Template() == "" {
			t.Errorf("%v has no template", k)
		}
	}
}

func TestParseScoreboardSingle(t *testing.T) {
	text := `{"question":"What is the score?","answer":"2-1","timestamp_frame":0,"bounding_box":"top left corner"}`
	rec, err := parseResponse(KindScoreboardSingle, text, 0, discardLogger())
	if err != nil {
		t.Fatalf("parseResponse: %v", err)
	}
	if rec.Answer.Single != "2-1" || rec.Answer.IsList() {
		t.Errorf("answer = %+v", rec.Answer)
	}
	if len(rec.Objects) != 1 || rec.Objects[0].Description != "top left corner" {
		t.Errorf("objects = %+v", rec.Objects)
	}
}

func TestParseScoreboardMultipleWindowBounds(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr bool
	}{
		{
			name: "valid",
			text: `{"question":"q","answer":"a","Q_window_frame":[10,20]}`,
		},
		{
			name:    "end past max frame",
			text:    `{"question":"q","answer":"a","Q_window_frame":[10,100]}`,
			wantErr: true,
		},
		{
			name:    "inverted window",
			text:    `{"question":"q","answer":"a","Q_window_frame":[20,10]}`,
			wantErr: true,
		},
		{
			name:    "missing window",
			text:    `{"question":"q","answer":"a"}`,
			wantErr: true,
		},
		{
			name:    "non-integer window",
			text:    `{"question":"q","answer":"a","Q_window_frame":[10.5,20]}`,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := parseResponse(KindScoreboardMultiple, tt.text, 99, discardLogger())
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				var se *SchemaError
				if !errors.As(err, &se) {
					t.Errorf("error %v is not a SchemaError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseResponse: %v", err)
			}
			if rec.QWindow.Start != 10 || rec.QWindow.End != 20 {
				t.Errorf("window = %+v", rec.QWindow)
			}
		})
	}
}

func TestParseContinuousCaptionCountMismatchAccepted(t *testing.T) {
	// Two captions but three windows: accepted with a warning, never a
	// hard failure.
	text := `{"question":"what happens?","answer":["run-up","jump"],"A_window_frame":[[0,10],[11,30],[31,50]]}`
	rec, err := parseResponse(KindContinuousActions, text, 99, discardLogger())
	if err != nil {
		t.Fatalf("count mismatch must be accepted, got %v", err)
	}
	if len(rec.Answer.List) != 2 || len(rec.AWindows) != 3 {
		t.Errorf("answers = %d, windows = %d", len(rec.Answer.List), len(rec.AWindows))
	}
}

func TestParseContinuousCaptionInvalidWindowRejected(t *testing.T) {
	text := `{"question":"q","answer":["a"],"A_window_frame":[[-1,10]]}`
	if _, err := parseResponse(KindContinuousEvents, text, 99, discardLogger()); err == nil {
		t.Fatal("expected SchemaError for negative start frame")
	}
}

func TestParseTrackingRequiresDescription(t *testing.T) {
	text := `{"question":"q","answer":"the ball","Q_window_frame":[0,49]}`
	if _, err := parseResponse(KindObjectTracking, text, 99, discardLogger()); err == nil {
		t.Fatal("expected SchemaError for missing first_frame_description")
	}
}

func TestParseFencedResponse(t *testing.T) {
	text := "```json\n{\"question\":\"q\",\"answer\":\"a\",\"A_window_frame\":[5,8],\"first_frame_description\":\"the keeper\"}\n```"
	rec, err := parseResponse(KindSpatialTemporalGrounding, text, 10, discardLogger())
	if err != nil {
		t.Fatalf("parseResponse: %v", err)
	}
	if rec.AWindow.Start != 5 || rec.AWindow.End != 8 {
		t.Errorf("window = %+v", rec.AWindow)
	}
}

func TestAnswerJSONRoundTrip(t *testing.T) {
	single := Answer{Single: "2-1"}
	data, err := json.Marshal(single)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `"2-1"` {
		t.Errorf("single answer serialized as %s", data)
	}

	list := Answer{List: []string{"a", "b"}}
	data, err = json.Marshal(list)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `["a","b"]` {
		t.Errorf("list answer serialized as %s", data)
	}

	var back Answer
	if err := json.Unmarshal([]byte(`["x"]`), &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !back.IsList() || back.List[0] != "x" {
		t.Errorf("round trip = %+v", back)
	}
	if err := json.Unmarshal([]byte(`42`), &back); err == nil {
		t.Error("expected error for numeric answer")
	}
}

func TestRecordJSONWindows(t *testing.T) {
	text := `{"question":"q","answer":["a","b"],"A_window_frame":[[0,4],[5,9]]}`
	rec, err := parseResponse(KindContinuousActions, text, 9, discardLogger())
	if err != nil {
		t.Fatalf("parseResponse: %v", err)
	}
	rec.AnnotationID = "3"
	rec.TaskLevel1 = KindContinuousActions.Level1()
	rec.TaskLevel2 = KindContinuousActions.String()

	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"A_window_frames":[[0,4],[5,9]]`) {
		t.Errorf("windows not serialized as pairs: %s", data)
	}
	if !strings.Contains(string(data), `"annotation_id":"3"`) {
		t.Errorf("annotation id not serialized as string: %s", data)
	}

	var back Record
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(back.Windows()) != 2 {
		t.Errorf("Windows() = %v", back.Windows())
	}
}
