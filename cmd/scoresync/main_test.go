package main

import (
	"testing"

	"github.com/zurustar/scoresync/pkg/library"
	"github.com/zurustar/scoresync/pkg/musicxml"
)

// TestEmbeddedScores checks that every bundled score is listed and converts.
func TestEmbeddedScores(t *testing.T) {
	scores := library.NewRegistry(embeddedScores).Scores()
	if len(scores) == 0 {
		t.Fatal("no embedded scores")
	}
	for _, s := range scores {
		t.Run(s.Name, func(t *testing.T) {
			if s.Metadata.Title == "" {
				t.Error("embedded scores must have a title")
			}
			data, err := s.Read()
			if err != nil {
				t.Fatal(err)
			}
			score, err := musicxml.DecodeBytes(data)
			if err != nil {
				t.Fatal(err)
			}
			f, tm, err := score.Convert()
			if err != nil {
				t.Fatal(err)
			}
			if f.Length() <= 0 || len(tm) == 0 {
				t.Errorf("length %v, %d measures", f.Length(), len(tm))
			}
			if err := tm.Validate(); err != nil {
				t.Error(err)
			}
		})
	}
}
