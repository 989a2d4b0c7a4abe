package gamepad

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Source produces controller states for the sender. Next returns io.EOF
// when the source is exhausted.
type Source interface {
	Next(ctx context.Context) (State, error)
}

// ReplaySource plays back a fixed list of states, optionally from the
// start again once the end is reached.
type ReplaySource struct {
	mu     sync.Mutex
	states []State
	pos    int
	loop   bool
}

func NewReplaySource(states []State, loop bool) *ReplaySource {
	return &ReplaySource{states: states, loop: loop}
}

// ReadReplay loads newline-delimited snapshots in wire form. Blank lines
// are skipped. The profile of each line is kept as written.
func ReadReplay(r io.Reader, loop bool) (*ReplaySource, error) {
	var states []State
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		data := bytes.TrimSpace(scanner.Bytes())
		if len(data) == 0 {
			continue
		}
		snap, err := Decode(data, ProfileDInput)
		if err != nil {
			return nil, fmt.Errorf("replay line %d: %w", line, err)
		}
		state := snap.State()
		if !hasProfileTag(data) {
			state.Profile = ""
		}
		states = append(states, state)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading replay: %w", err)
	}
	if len(states) == 0 {
		return nil, errors.New("replay contains no snapshots")
	}
	return NewReplaySource(states, loop), nil
}

func hasProfileTag(data []byte) bool {
	var tagged struct {
		Profile string `json:"profile"`
	}
	return json.Unmarshal(data, &tagged) == nil && tagged.Profile != ""
}

func (rs *ReplaySource) Next(ctx context.Context) (State, error) {
	if err := ctx.Err(); err != nil {
		return State{}, err
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.pos == len(rs.states) {
		if !rs.loop || len(rs.states) == 0 {
			return State{}, io.EOF
		}
		rs.pos = 0
	}
	state := rs.states[rs.pos]
	rs.pos++
	return state, nil
}

// DemoStates taps every face button once and then the D-pad, each held
// for hold frames and followed by as many idle frames.
func DemoStates(profile Profile, hold int) []State {
	idle := func() State {
		return State{Profile: profile, Buttons: make([]float64, 4), Axes: make([]float64, 4), Hats: [][2]int{{0, 0}}}
	}
	var states []State
	frames := func(s State) {
		for i := 0; i < hold; i++ {
			states = append(states, s)
		}
		for i := 0; i < hold; i++ {
			states = append(states, idle())
		}
	}
	for i := 0; i < 4; i++ {
		s := idle()
		s.Buttons[i] = 1
		frames(s)
	}
	for _, hat := range [][2]int{{0, 1}, {1, 0}, {0, -1}, {-1, 0}} {
		s := idle()
		s.Hats[0] = hat
		frames(s)
	}
	return states
}
