// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package styles provides the visual styling system for the rigstream TUI.
// All colors use Lip Gloss AdaptiveColor for automatic light/dark detection.
package styles

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Theme names accepted by NewTheme.
const (
	ThemeAuto  = "auto"
	ThemeDark  = "dark"
	ThemeLight = "light"
)

// Theme holds all the styled components for the application.
type Theme struct {
	IsDark       bool
	NoColor      bool
	ColorProfile termenv.Profile

	Width  int
	Height int

	// ==========================================================================
	// LAYOUT
	// ==========================================================================

	Header      lipgloss.Style
	HeaderTitle lipgloss.Style
	Sidebar     lipgloss.Style
	Divider     lipgloss.Style

	// ==========================================================================
	// SESSION LIST
	// ==========================================================================

	SessionItem    lipgloss.Style
	SessionActive  lipgloss.Style
	SessionPreview lipgloss.Style
	UnreadBadge    lipgloss.Style

	// ==========================================================================
	// MESSAGES
	// ==========================================================================

	UserLabel      lipgloss.Style
	AssistantLabel lipgloss.Style
	SystemLabel    lipgloss.Style
	MessageBody    lipgloss.Style
	Timestamp      lipgloss.Style
	StreamCursor   lipgloss.Style

	// ==========================================================================
	// INPUT AND STATUS
	// ==========================================================================

	InputBox      lipgloss.Style
	InputDisabled lipgloss.Style
	StatusBar     lipgloss.Style
	StateOK       lipgloss.Style
	StateBusy     lipgloss.Style
	StateBad      lipgloss.Style
	ShortcutKey   lipgloss.Style
	ShortcutDesc  lipgloss.Style

	// ==========================================================================
	// BANNERS
	// ==========================================================================

	WarningBanner lipgloss.Style
	ErrorBanner   lipgloss.Style
	Muted         lipgloss.Style
}

// NewTheme creates a theme. name is auto, dark or light; auto asks the
// terminal. noColor forces the ASCII profile.
func NewTheme(name string, noColor bool) *Theme {
	profile := termenv.ColorProfile()
	if noColor {
		profile = termenv.Ascii
	}

	var isDark bool
	switch strings.ToLower(name) {
	case ThemeDark:
		isDark = true
	case ThemeLight:
		isDark = false
	default:
		isDark = termenv.HasDarkBackground()
	}

	t := &Theme{
		IsDark:       isDark,
		NoColor:      noColor,
		ColorProfile: profile,
	}
	t.initStyles()
	return t
}

// Renderer returns a lipgloss renderer matching the theme's profile.
func (t *Theme) Renderer() *lipgloss.Renderer {
	r := lipgloss.NewRenderer(os.Stdout)
	r.SetColorProfile(t.ColorProfile)
	r.SetHasDarkBackground(t.IsDark)
	return r
}

func (t *Theme) initStyles() {
	r := t.Renderer()
	s := r.NewStyle

	t.Header = s().Bold(true).Foreground(Cyan).Background(SurfaceDim).Padding(0, 1)
	t.HeaderTitle = s().Bold(true).Foreground(Purple)
	t.Sidebar = s().Padding(0, 1).BorderStyle(lipgloss.NormalBorder()).
		BorderRight(true).BorderForeground(Overlay)
	t.Divider = s().Foreground(Overlay)

	t.SessionItem = s().Foreground(TextPrimary)
	t.SessionActive = s().Bold(true).Foreground(Cyan).Background(SelectionBg)
	t.SessionPreview = s().Foreground(TextMuted)
	t.UnreadBadge = s().Bold(true).Foreground(TextInverse).Background(Purple).Padding(0, 1)

	t.UserLabel = s().Bold(true).Foreground(Cyan)
	t.AssistantLabel = s().Bold(true).Foreground(Purple)
	t.SystemLabel = s().Bold(true).Foreground(Amber)
	t.MessageBody = s().Foreground(TextPrimary).PaddingLeft(2)
	t.Timestamp = s().Foreground(TextMuted).Italic(true)
	t.StreamCursor = s().Foreground(Purple).Blink(true)

	t.InputBox = s().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(Cyan).Padding(0, 1)
	t.InputDisabled = t.InputBox.BorderForeground(TextMuted)
	t.StatusBar = s().Foreground(TextSecondary).Background(SurfaceBright).Padding(0, 1)
	t.StateOK = s().Bold(true).Foreground(Emerald)
	t.StateBusy = s().Bold(true).Foreground(Amber)
	t.StateBad = s().Bold(true).Foreground(Rose)
	t.ShortcutKey = s().Bold(true).Foreground(Cyan)
	t.ShortcutDesc = s().Foreground(TextMuted)

	t.WarningBanner = s().Foreground(Amber).Bold(true).Padding(0, 1)
	t.ErrorBanner = s().Foreground(Rose).Bold(true).Padding(0, 1)
	t.Muted = s().Foreground(TextMuted)
}

// SetSize updates the theme dimensions for responsive layouts.
func (t *Theme) SetSize(width, height int) {
	t.Width = width
	t.Height = height
}

// LayoutMode returns the current layout mode based on width.
func (t *Theme) LayoutMode() LayoutMode {
	if t.Width < 60 {
		return LayoutNarrow
	}
	if t.Width < 100 {
		return LayoutMedium
	}
	return LayoutWide
}

// LayoutMode represents the current responsive layout mode.
type LayoutMode int

const (
	LayoutNarrow LayoutMode = iota // < 60 columns, sidebar hidden
	LayoutMedium                   // 60-100 columns
	LayoutWide                     // > 100 columns
)
