package mode

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	name  string
	calls []string
	err   error
	panic bool
}

func (o *recordingObserver) Name() string { return o.name }

func (o *recordingObserver) OnModeChange(from, to Mode, reason string) error {
	if o.panic {
		panic("observer exploded")
	}
	o.calls = append(o.calls, fmt.Sprintf("%d->%d", int(from), int(to)))
	return o.err
}

func (o *recordingObserver) OnEmergencyRevert(from Mode, reason string) error {
	if o.panic {
		panic("observer exploded")
	}
	o.calls = append(o.calls, fmt.Sprintf("emergency from %d", int(from)))
	return o.err
}

type failingStore struct {
	loadErr error
	saveErr error
	state   State
	saves   int
}

func (s *failingStore) Load() (State, error) { return s.state, s.loadErr }
func (s *failingStore) Save(State) error {
	s.saves++
	return s.saveErr
}

func TestControllerDefaultsToHybrid(t *testing.T) {
	c := NewController(nil, nil)
	assert.Equal(t, Hybrid, c.Current())
	assert.Equal(t, RuleOnly, c.Previous())
}

func TestControllerFallsBackOnLoadFailure(t *testing.T) {
	store := &failingStore{loadErr: errors.New("disk on fire")}
	c := NewController(store, nil)
	assert.Equal(t, Hybrid, c.Current())
}

func TestControllerLoadsPersistedState(t *testing.T) {
	store := &failingStore{state: State{CurrentMode: AIAssisted, PreviousMode: Hybrid}}
	c := NewController(store, nil)
	assert.Equal(t, AIAssisted, c.Current())
	assert.Equal(t, Hybrid, c.Previous())
}

func TestSwitchModeRejectsInvalidTarget(t *testing.T) {
	c := NewController(nil, nil)
	for _, target := range []Mode{-1, 5, 99} {
		result := c.SwitchMode(target, "test", "user", false)
		assert.False(t, result.Success)
		assert.Equal(t, Hybrid, c.Current(), "mode must not change on invalid target")
	}
}

func TestSwitchModeNoOpOnSameMode(t *testing.T) {
	c := NewController(nil, nil)
	result := c.SwitchMode(Hybrid, "same", "user", false)
	assert.True(t, result.Success)
	assert.Equal(t, Hybrid, c.Current())
}

func TestAllDisallowedTransitionsLeaveModeUnchanged(t *testing.T) {
	for from := RuleOnly; from <= GuardedAutonomous; from++ {
		for to := RuleOnly; to <= GuardedAutonomous; to++ {
			if to == from || to == RuleOnly || transitionAllowed(from, to) {
				continue
			}
			c := NewController(nil, nil)
			c.SwitchMode(from, "setup", "user", true)
			require.Equal(t, from, c.Current())

			result := c.SwitchMode(to, "attempt", "user", false)
			assert.False(t, result.Success, "M%d->M%d should be rejected", int(from), int(to))
			assert.Equal(t, from, c.Current(), "M%d->M%d must not mutate state", int(from), int(to))
		}
	}
}

func TestRevertToRuleOnlyAlwaysAllowed(t *testing.T) {
	for from := Hybrid; from <= GuardedAutonomous; from++ {
		c := NewController(nil, nil)
		c.SwitchMode(from, "setup", "user", true)
		result := c.SwitchMode(RuleOnly, "revert", "system", false)
		assert.True(t, result.Success, "revert to M0 from M%d must succeed", int(from))
		assert.Equal(t, RuleOnly, c.Current())
	}
}

func TestMode4OnlyReachableFromMode3(t *testing.T) {
	c := NewController(nil, nil)
	result := c.SwitchMode(GuardedAutonomous, "shortcut", "user", false)
	assert.False(t, result.Success)
	assert.Equal(t, Hybrid, c.Current())

	c.SwitchMode(AIAssisted, "step up", "user", false)
	result = c.SwitchMode(GuardedAutonomous, "now allowed", "user", false)
	assert.True(t, result.Success)
	assert.Equal(t, GuardedAutonomous, c.Current())
}

func TestMode4RequiresHumanApproval(t *testing.T) {
	c := NewController(nil, nil)
	c.SwitchMode(AIAssisted, "setup", "user", false)

	result := c.SwitchMode(GuardedAutonomous, "agent wants autonomy", "regime_agent", false)
	assert.False(t, result.Success)
	assert.True(t, result.PendingApproval)
	assert.Equal(t, AIAssisted, c.Current(), "pending approval must not mutate state")

	result = c.SwitchMode(GuardedAutonomous, "operator approved", "user", false)
	assert.True(t, result.Success)
	assert.Equal(t, GuardedAutonomous, c.Current())
}

func TestForceBypassesTransitionValidation(t *testing.T) {
	c := NewController(nil, nil)
	result := c.SwitchMode(GuardedAutonomous, "forced", "user", true)
	assert.True(t, result.Success)
	assert.Equal(t, GuardedAutonomous, c.Current())
}

func TestEmergencyRevertAlwaysSucceeds(t *testing.T) {
	for from := RuleOnly; from <= GuardedAutonomous; from++ {
		c := NewController(nil, nil)
		c.SwitchMode(from, "setup", "user", true)

		result := c.EmergencyRevert("ai anomaly")
		assert.True(t, result.Success)
		assert.Equal(t, RuleOnly, c.Current())
	}
}

func TestEmergencyRevertFiresEmergencyObservers(t *testing.T) {
	c := NewController(nil, nil)
	generic := &recordingObserver{name: "generic"}
	emergency := &recordingObserver{name: "emergency"}
	c.OnModeChange(generic)
	c.OnEmergencyRevert(emergency)

	c.SwitchMode(AIAssisted, "setup", "user", false)
	c.EmergencyRevert("breaker")

	assert.Contains(t, generic.calls, "3->0")
	assert.Contains(t, emergency.calls, "emergency from 3")
}

func TestRestorePrevious(t *testing.T) {
	c := NewController(nil, nil)
	c.SwitchMode(MLDominant, "setup", "user", false)
	require.Equal(t, MLDominant, c.Current())
	require.Equal(t, Hybrid, c.Previous())

	result := c.RestorePrevious("back to hybrid")
	assert.True(t, result.Success)
	assert.Equal(t, Hybrid, c.Current())
}

func TestRestorePreviousFailsWhenSame(t *testing.T) {
	// Equal previous and current is only reachable through persisted state.
	store := &failingStore{state: State{CurrentMode: Hybrid, PreviousMode: Hybrid}}
	c := NewController(store, nil)
	require.Equal(t, c.Previous(), c.Current())

	result := c.RestorePrevious("nothing to restore")
	assert.False(t, result.Success)
	assert.Contains(t, result.Reason, "no previous mode")
	assert.Equal(t, Hybrid, c.Current())
}

func TestRestorePreviousCannotEscalateToAutonomous(t *testing.T) {
	c := NewController(nil, nil)
	c.SwitchMode(AIAssisted, "setup", "user", false)
	c.SwitchMode(GuardedAutonomous, "operator approved", "user", false)
	c.SwitchMode(AIAssisted, "step down", "user", false)
	require.Equal(t, AIAssisted, c.Current())
	require.Equal(t, GuardedAutonomous, c.Previous())
	historyBefore := len(c.History(0))

	result := c.RestorePrevious("resume autonomy")
	assert.False(t, result.Success)
	assert.True(t, result.PendingApproval)
	assert.Equal(t, AIAssisted, c.Current(), "restore must not bypass autonomy approval")
	assert.Equal(t, GuardedAutonomous, c.Previous())
	assert.Len(t, c.History(0), historyBefore)

	// Explicit human approval is still the sanctioned path back up.
	approved := c.SwitchMode(GuardedAutonomous, "operator re-approved", "user", false)
	assert.True(t, approved.Success)
	assert.Equal(t, GuardedAutonomous, c.Current())
}

func TestObserverFailuresNeverAbortTransition(t *testing.T) {
	c := NewController(nil, nil)
	c.OnModeChange(&recordingObserver{name: "angry", err: errors.New("observer failed")})
	c.OnModeChange(&recordingObserver{name: "panicky", panic: true})
	healthy := &recordingObserver{name: "healthy"}
	c.OnModeChange(healthy)

	result := c.SwitchMode(MLDominant, "observers must not matter", "user", false)
	assert.True(t, result.Success)
	assert.Equal(t, MLDominant, c.Current())
	assert.Contains(t, healthy.calls, "1->2")
}

func TestPersistenceFailureIsDegradedNotFatal(t *testing.T) {
	store := &failingStore{loadErr: errors.New("no state yet"), saveErr: errors.New("disk full")}
	c := NewController(store, nil)

	result := c.SwitchMode(MLDominant, "switch with broken disk", "user", false)
	assert.True(t, result.Success, "in-memory transition must complete despite save failure")
	assert.Equal(t, MLDominant, c.Current())
	assert.Equal(t, 1, store.saves)
}

func TestHistoryIsCapped(t *testing.T) {
	c := NewController(nil, nil)
	for i := 0; i < maxHistory+50; i++ {
		target := Hybrid
		if c.Current() == Hybrid {
			target = MLDominant
		}
		c.SwitchMode(target, "churn", "user", false)
	}
	assert.Len(t, c.History(0), maxHistory)
}

func TestCanSwitchTo(t *testing.T) {
	c := NewController(nil, nil)

	allowed, _ := c.CanSwitchTo(AIAssisted)
	assert.True(t, allowed)

	allowed, reason := c.CanSwitchTo(GuardedAutonomous)
	assert.False(t, allowed)
	assert.Contains(t, reason, "not allowed")

	allowed, _ = c.CanSwitchTo(RuleOnly)
	assert.True(t, allowed)
}

func TestModeMetadata(t *testing.T) {
	c := NewController(nil, nil)
	assert.True(t, c.IsEngineActive("ml"))
	assert.False(t, c.IsAIActive())
	assert.False(t, c.IsAutonomous())

	c.SwitchMode(AIAssisted, "setup", "user", false)
	assert.True(t, c.IsAIActive())
	assert.True(t, c.IsAgentActive("regime"))
	assert.False(t, c.IsAutonomous())
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "global_mode.yaml")
	store := NewFileStore(path)

	c := NewController(store, nil)
	c.SwitchMode(AIAssisted, "persist me", "user", false)

	reloaded := NewController(NewFileStore(path), nil)
	assert.Equal(t, AIAssisted, reloaded.Current())
	assert.Equal(t, Hybrid, reloaded.Previous())
}

func TestFileStoreMissingFile(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := store.Load()
	require.Error(t, err)
}
