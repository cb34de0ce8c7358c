package media

func AudioToggleLabel(enabled bool) string {
	if enabled {
		return "Mute Audio"
	}
	return "Unmute Audio"
}

func VideoToggleLabel(enabled bool) string {
	if enabled {
		return "Turn Off Video"
	}
	return "Turn On Video"
}

// Toggle flips the enabled state of tracks. The new state is derived from the
// first track and assigned to all of them. ok is false when tracks is empty.
func Toggle(tracks []*Track) (enabled bool, ok bool) {
	if len(tracks) == 0 {
		return false, false
	}
	current := tracks[0].Enabled()
	next := !current
	for _, t := range tracks {
		t.SetEnabled(next)
	}
	return next, true
}
