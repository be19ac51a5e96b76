package shared

// Permissions checked by route middleware.
const (
	PermRoundsView     = "rounds.view"
	PermRoundsOverride = "rounds.override"

	PermEventsView   = "events.view"
	PermEventsManage = "events.manage"

	PermDelibsControl = "delibs.control"

	PermVotesCast  = "votes.cast"
	PermVotesStats = "votes.stats"
	PermVotesClear = "votes.clear"

	PermCyclesView   = "cycles.view"
	PermCyclesManage = "cycles.manage"

	PermSettingsView   = "settings.view"
	PermSettingsManage = "settings.manage"

	PermRealtimeSubscribe = "realtime.subscribe"

	PermAuditView = "audit.view"
)

// VoterScopes lists the permissions granted to every authenticated voter.
func VoterScopes() []string {
	return []string{
		PermRoundsView,
		PermEventsView,
		PermVotesCast,
		PermVotesStats,
		PermCyclesView,
		PermSettingsView,
		PermRealtimeSubscribe,
	}
}

// AdminScopes lists the permissions granted to admins on top of VoterScopes.
func AdminScopes() []string {
	return append(VoterScopes(),
		PermRoundsOverride,
		PermEventsManage,
		PermDelibsControl,
		PermVotesClear,
		PermCyclesManage,
		PermSettingsManage,
		PermAuditView,
	)
}
