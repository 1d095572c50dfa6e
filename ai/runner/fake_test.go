package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var errFakeDelivery = errors.New("fake delivery failure")

type fakeMessage struct {
	ID   string
	Text string
}

// fakeDeliverer records what a transport would display.
type fakeDeliverer struct {
	mu        sync.Mutex
	maxLen    int
	edit      bool
	messages  []fakeMessage
	edits     int
	failSends int
	failEdits bool
}

func newFakeDeliverer(maxLen int, edit bool) *fakeDeliverer {
	return &fakeDeliverer{maxLen: maxLen, edit: edit}
}

func (f *fakeDeliverer) Send(_ context.Context, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSends > 0 {
		f.failSends--
		return "", errFakeDelivery
	}
	if len([]rune(text)) > f.maxLen {
		return "", fmt.Errorf("message too long: %d", len([]rune(text)))
	}
	id := fmt.Sprintf("m%d", len(f.messages)+1)
	f.messages = append(f.messages, fakeMessage{ID: id, Text: text})
	return id, nil
}

func (f *fakeDeliverer) Edit(_ context.Context, id, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failEdits {
		return errFakeDelivery
	}
	for i := range f.messages {
		if f.messages[i].ID == id {
			f.messages[i].Text = text
			f.edits++
			return nil
		}
	}
	return fmt.Errorf("unknown message %s", id)
}

func (f *fakeDeliverer) MaxMessageLength() int { return f.maxLen }
func (f *fakeDeliverer) SupportsEdit() bool    { return f.edit }

func (f *fakeDeliverer) Texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	texts := make([]string, len(f.messages))
	for i, m := range f.messages {
		texts[i] = m.Text
	}
	return texts
}

func (f *fakeDeliverer) Edits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.edits
}
