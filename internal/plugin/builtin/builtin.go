// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package builtin

import "github.com/ManuGH/dglink/internal/plugin"

// Source returns the static source of every compiled-in plugin.
func Source(p Panel) *plugin.StaticSource {
	return plugin.NewStaticSource("builtin",
		StrengthCycleUnit(),
		FeedbackPanelUnit(p),
	)
}
