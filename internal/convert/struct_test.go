package convert

import (
	"strings"
	"testing"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/navcom/groupctl/internal/model"
)

func TestToFromStruct_IntsSurvive(t *testing.T) {
	t.Parallel()

	in := model.RotationJob{GroupID: "ops", Attempts: 3, ScheduledAt: 1_700_000_000, Status: model.JobFailed}
	s, err := ToStruct(in)
	if err != nil {
		t.Fatalf("ToStruct: %v", err)
	}
	if got := s.GetFields()["groupId"].GetStringValue(); got != "ops" {
		t.Fatalf("groupId = %q", got)
	}

	var out model.RotationJob
	if err := FromStruct(s, &out); err != nil {
		t.Fatalf("FromStruct: %v", err)
	}
	if out != in {
		t.Fatalf("roundtrip mismatch: %+v", out)
	}
}

func TestToStruct_RejectsNonObject(t *testing.T) {
	t.Parallel()

	if _, err := ToStruct([]string{"a"}); err == nil || !strings.Contains(err.Error(), "not an object") {
		t.Fatalf("want not an object error, got %v", err)
	}
}

func TestToStruct_NilMapIsEmpty(t *testing.T) {
	t.Parallel()

	var m map[string]int
	s, err := ToStruct(m)
	if err != nil || len(s.GetFields()) != 0 {
		t.Fatalf("nil map: fields=%v err=%v", s.GetFields(), err)
	}
}

func TestFromStruct_TypeMismatch(t *testing.T) {
	t.Parallel()

	s, err := structpb.NewStruct(map[string]any{"attempts": "three"})
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	var out model.RotationJob
	if err := FromStruct(s, &out); err == nil {
		t.Fatalf("want decode error")
	}
	if err := FromStruct(nil, &out); err != nil {
		t.Fatalf("nil struct: %v", err)
	}
}
