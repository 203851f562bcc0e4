package domain

import "testing"

func TestContentSummaryAddCountsByCategory(t *testing.T) {
	var s ContentSummary
	for _, rt := range []RecordType{RecordContainer, RecordSubSample, RecordSubSample} {
		s.Add(rt)
	}
	if s.TotalCount != 3 || s.ContainerCount != 1 || s.SubSampleCount != 2 {
		t.Fatalf("unexpected summary %+v", s)
	}
	for _, rt := range []RecordType{RecordSample, RecordSubSample, RecordTemplate} {
		if rt.IsContentBearing() {
			t.Fatalf("%s must not hold other records", rt)
		}
	}
	if !RecordContainer.IsContentBearing() {
		t.Fatalf("containers hold other records")
	}
}
