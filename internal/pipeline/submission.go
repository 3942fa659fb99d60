package pipeline

import (
	"strings"
	"unicode/utf8"

	"github.com/kalambet/jurist/internal/fault"
	"github.com/kalambet/jurist/internal/storage"
)

const (
	// MaxFiles is the most document references one query may carry.
	MaxFiles = 10
	// MaxTextRunes bounds the typed question.
	MaxTextRunes = 20000
)

// Submission is a raw question as received from a client.
type Submission struct {
	OwnerID  string           `json:"ownerId"`
	Text     string           `json:"text"`
	Modality storage.Modality `json:"modality,omitempty"`
	AudioRef string           `json:"audioRef,omitempty"`
	FileRefs []string         `json:"fileRefs,omitempty"`
}

// normalize trims input, infers a missing modality and validates the result.
func (s Submission) normalize() (Submission, error) {
	s.OwnerID = strings.TrimSpace(s.OwnerID)
	s.Text = strings.TrimSpace(s.Text)
	s.AudioRef = strings.TrimSpace(s.AudioRef)
	var refs []string
	for _, r := range s.FileRefs {
		if r = strings.TrimSpace(r); r != "" {
			refs = append(refs, r)
		}
	}
	s.FileRefs = refs

	if s.OwnerID == "" {
		return s, fault.Invalid("owner id is required")
	}
	if s.Text == "" && s.AudioRef == "" && len(s.FileRefs) == 0 {
		return s, fault.Invalid("a question needs text, audio or at least one file")
	}
	if utf8.RuneCountInString(s.Text) > MaxTextRunes {
		return s, fault.Invalid("text exceeds %d characters", MaxTextRunes)
	}
	if len(s.FileRefs) > MaxFiles {
		return s, fault.Invalid("at most %d files per question, got %d", MaxFiles, len(s.FileRefs))
	}

	if s.Modality == "" {
		switch {
		case s.AudioRef != "":
			s.Modality = storage.ModalityVoice
		case len(s.FileRefs) > 0:
			s.Modality = storage.ModalityDocument
		default:
			s.Modality = storage.ModalityText
		}
	}

	switch s.Modality {
	case storage.ModalityText:
		if s.Text == "" {
			return s, fault.Invalid("text modality requires text")
		}
	case storage.ModalityVoice:
		if s.AudioRef == "" {
			return s, fault.Invalid("voice modality requires an audio reference")
		}
	case storage.ModalityDocument:
		if len(s.FileRefs) == 0 {
			return s, fault.Invalid("document modality requires at least one file")
		}
	default:
		return s, fault.Invalid("unknown modality %q", s.Modality)
	}
	return s, nil
}
