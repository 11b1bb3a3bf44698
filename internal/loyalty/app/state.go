package app

import (
	"context"
	"time"

	"github.com/pdavies/carpetloyalty/internal/loyalty/repo"
)

// UIState is the snapshot observed by presentation layers.
type UIState struct {
	IsLoading bool   `json:"isLoading"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`

	// Notice reports a follow-up sync failure after a successful operation.
	Notice string `json:"notice,omitempty"`

	ScanResult        *repo.ScanResult `json:"scanResult,omitempty"`
	GeneratedBarcodes int              `json:"generatedBarcodes"`
	TotalClients      int              `json:"totalClients"`
	LastSync          time.Time        `json:"lastSync"`
}

// State returns the current UI state.
func (a *App) State() UIState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// Subscribe returns a channel that receives the current state and then
// every change until ctx is done. Slow receivers only see the latest state.
func (a *App) Subscribe(ctx context.Context) <-chan UIState {
	ch := make(chan UIState, 1)

	a.mu.Lock()
	a.subs[ch] = struct{}{}
	ch <- a.state
	a.mu.Unlock()

	go func() {
		<-ctx.Done()
		a.mu.Lock()
		delete(a.subs, ch)
		close(ch)
		a.mu.Unlock()
	}()
	return ch
}

// update applies fn to the state and notifies subscribers.
func (a *App) update(fn func(s *UIState)) {
	a.mu.Lock()
	defer a.mu.Unlock()

	fn(&a.state)
	a.state.IsLoading = a.busy > 0
	for ch := range a.subs {
		select {
		case <-ch:
		default:
		}
		ch <- a.state
	}
}

// begin marks an operation in flight and clears the previous outcome.
func (a *App) begin() {
	a.update(func(s *UIState) {
		a.busy++
		s.Message = ""
		s.Error = ""
		s.Notice = ""
	})
}

// end marks an operation complete and applies its outcome.
func (a *App) end(fn func(s *UIState)) {
	a.update(func(s *UIState) {
		a.busy--
		fn(s)
	})
}

// ClearMessage clears the message and error.
func (a *App) ClearMessage() {
	a.update(func(s *UIState) {
		s.Message = ""
		s.Error = ""
		s.Notice = ""
	})
}

// ClearScanResult clears the last scan result.
func (a *App) ClearScanResult() {
	a.update(func(s *UIState) { s.ScanResult = nil })
}
