// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package builtin

import (
	"context"
	"errors"

	"github.com/ManuGH/dglink/internal/event"
	xglog "github.com/ManuGH/dglink/internal/log"
	"github.com/ManuGH/dglink/internal/plugin"
)

const FeedbackPanelName = "feedback_panel"

// Panel is the subset of panel.Panel the feedback plugin drives.
type Panel interface {
	StepUp(ctx context.Context) bool
	StepDown(ctx context.Context) bool
	Fire(ctx context.Context) error
}

// FeedbackPanel maps the device's feedback buttons to panel actions.
// A button setting of -1 leaves that action unmapped.
type FeedbackPanel struct {
	rt    plugin.Runtime
	panel Panel
}

// FeedbackPanelUnit returns the discoverable unit for FeedbackPanel.
func FeedbackPanelUnit(p Panel) plugin.Unit {
	return plugin.Unit{
		Name:   FeedbackPanelName,
		Origin: "builtin",
		Load: func(rt plugin.Runtime) (plugin.Plugin, error) {
			if p == nil {
				return nil, errors.New("no panel configured")
			}
			return &FeedbackPanel{rt: rt, panel: p}, nil
		},
	}
}

func (f *FeedbackPanel) Manifest() plugin.Manifest {
	return plugin.Manifest{
		Name:        FeedbackPanelName,
		Version:     "1.0.0",
		Description: "Maps device feedback buttons to panel step and fire actions.",
		Author:      "dglink",
		Events: []plugin.EventBinding{
			{Event: event.FeedbackButtonPressed, Priority: event.PriorityNormal, Handler: f.onButton},
		},
		Settings: []plugin.Setting{
			{Name: "step_up_button", Type: plugin.SettingInt, Default: 3, Min: plugin.Bound(-1), Max: plugin.Bound(9)},
			{Name: "step_down_button", Type: plugin.SettingInt, Default: 4, Min: plugin.Bound(-1), Max: plugin.Bound(9)},
			{Name: "fire_button", Type: plugin.SettingInt, Default: -1, Min: plugin.Bound(-1), Max: plugin.Bound(9)},
		},
	}
}

func (f *FeedbackPanel) Initialize(context.Context) error { return nil }

func (f *FeedbackPanel) Shutdown(context.Context) error { return nil }

func (f *FeedbackPanel) onButton(ctx context.Context, e *event.Event) error {
	button, ok := e.Int("button")
	if !ok || button < 0 {
		return nil
	}
	s := f.rt.Settings
	switch button {
	case s.Int("step_up_button", -1):
		f.panel.StepUp(ctx)
	case s.Int("step_down_button", -1):
		f.panel.StepDown(ctx)
	case s.Int("fire_button", -1):
		// Fire holds for seconds; keep the bus moving.
		go func() {
			if err := f.panel.Fire(event.Detach(ctx)); err != nil {
				f.rt.Logger.Debug().Err(err).Msg("feedback fire ignored")
			}
		}()
	default:
		return nil
	}
	f.rt.Logger.Debug().
		Str(xglog.FieldEvent, "feedback_panel.action").
		Int("button", button).
		Msg("feedback button mapped")
	return nil
}
