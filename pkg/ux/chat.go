// Copyright (C) 2025 Praxis Learning (oss@praxislearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// ChatMode represents the tutoring session mode
type ChatMode int

const (
	// ChatModeAdaptive is a personalized session backed by the learner's
	// memory profile. Responses adapt to mastery and learning style.
	ChatModeAdaptive ChatMode = iota

	// ChatModeAnonymous is a session without a learner profile. Responses
	// are generated without personalization and nothing is persisted.
	ChatModeAnonymous
)

// HeaderConfig contains configuration for displaying the session header.
//
// # Description
//
// HeaderConfig groups all optional parameters for the chat header display.
// This allows extending the header with new fields without breaking existing
// callers of the Header() method.
//
// # Fields
//
//   - Mode: Required. Adaptive or anonymous session mode.
//   - LearnerID: Learner identifier. Empty for anonymous sessions.
//   - SessionID: Session identifier for resume. May be empty for new sessions.
//   - ServerURL: Tutor server base URL. Shown in minimal/machine modes only.
//   - LearnerStats: Optional aggregated stats for the learner's profile.
type HeaderConfig struct {
	Mode         ChatMode
	LearnerID    string
	SessionID    string
	ServerURL    string
	LearnerStats *LearnerStats // Optional stats from the tutor server
}

// LearnerStats contains aggregated metrics for a learner's profile.
//
// # Description
//
// LearnerStats captures aggregate information about the learner's stored
// memory. This is fetched from the tutor server and displayed in the chat
// header so the student can see their profile is being used.
//
// # Fields
//
//   - ConceptCount: Number of concepts tracked in the learner's memory
//   - MasteredCount: Number of concepts at mastery confidence
//   - LastActiveAt: Unix milliseconds of the most recent interaction
type LearnerStats struct {
	ConceptCount  int   `json:"concept_count"`
	MasteredCount int   `json:"mastered_count"`
	LastActiveAt  int64 `json:"last_active_at"`
}

// SessionStats aggregates metrics from a tutoring session for display.
//
// # Description
//
// SessionStats captures accumulated metrics across all exchanges in a
// session. It's designed to be displayed when the session ends, giving
// students visibility into what the session covered.
//
// # Fields
//
//   - MessageCount: Questions asked during the session
//   - TotalTokens: Answer tokens generated
//   - ThinkingTokens: Reasoning tokens generated (extended thinking models)
//   - ConceptsCovered: Distinct concepts detected across the session
//   - Duration: Wall-clock session duration
//   - FirstResponseLatency: Time to first token of first response
//   - AverageResponseTime: Average time per response
type SessionStats struct {
	MessageCount         int
	TotalTokens          int
	ThinkingTokens       int
	ConceptsCovered      []string
	Duration             time.Duration
	FirstResponseLatency time.Duration
	AverageResponseTime  time.Duration
}

// ChatUI defines the interface for tutoring chat user interface operations.
// Implementations handle rendering chat elements to different outputs.
type ChatUI interface {
	// Header displays the session header with mode and identifiers.
	// Deprecated: Use HeaderWithConfig for new code.
	Header(mode ChatMode, learnerID, sessionID string)

	// HeaderWithConfig displays the session header with full configuration.
	// This method supports displaying learner profile stats and server info.
	HeaderWithConfig(config HeaderConfig)

	// Prompt returns the styled input prompt string
	Prompt() string

	// Response displays the tutor's complete answer (non-streaming path)
	Response(answer string)

	// Metadata displays detected concepts and suggested followups after
	// an answer. Nil or empty metadata renders nothing.
	Metadata(metadata *TeachMetadata)

	// Error displays a chat error message
	Error(err error)

	// SessionResume displays session resume information
	SessionResume(sessionID string, turnCount int)

	// SessionEnd displays session end information
	SessionEnd(sessionID string)

	// SessionEndRich displays rich session end information with stats.
	//
	// This is the "maximalist" session end experience, showing:
	//   - Session ID with copy hint
	//   - Session statistics (messages, tokens, concepts, duration)
	//   - Commands for resuming the session later
	//
	// Use this instead of SessionEnd when you have accumulated stats.
	SessionEndRich(sessionID string, stats *SessionStats)

	// Integrity displays the hash chain verification outcome for the
	// last streamed response. Nil info renders nothing.
	Integrity(info *IntegrityInfo)
}

// terminalChatUI implements ChatUI for terminal output
type terminalChatUI struct {
	writer      io.Writer
	personality PersonalityLevel
}

// write is a helper that writes formatted output and handles errors.
// Errors are silently ignored as there's no meaningful recovery for terminal output.
func (u *terminalChatUI) write(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(u.writer, format, args...); err != nil {
		// Terminal write errors are non-recoverable; silently ignore
		return
	}
}

// writeln is a helper that writes a line and handles errors.
func (u *terminalChatUI) writeln(args ...interface{}) {
	if _, err := fmt.Fprintln(u.writer, args...); err != nil {
		// Terminal write errors are non-recoverable; silently ignore
		return
	}
}

// NewChatUI creates a new terminal-based ChatUI
func NewChatUI() ChatUI {
	return &terminalChatUI{
		writer:      os.Stdout,
		personality: GetPersonality().Level,
	}
}

// NewChatUIWithWriter creates a ChatUI with a custom writer (for testing)
func NewChatUIWithWriter(w io.Writer, personality PersonalityLevel) ChatUI {
	return &terminalChatUI{
		writer:      w,
		personality: personality,
	}
}

// Header displays the session header.
// Deprecated: Use HeaderWithConfig for new code with learner stats support.
func (u *terminalChatUI) Header(mode ChatMode, learnerID, sessionID string) {
	u.HeaderWithConfig(HeaderConfig{
		Mode:      mode,
		LearnerID: learnerID,
		SessionID: sessionID,
	})
}

// HeaderWithConfig displays the session header with full configuration.
//
// # Description
//
// Renders the session header box with mode, learner, and optional profile
// stats. Adapts output based on personality level.
//
// # Inputs
//
//   - config: HeaderConfig with mode, learnerID, sessionID, stats
//
// # Outputs
//
// None. Writes directly to the configured writer.
func (u *terminalChatUI) HeaderWithConfig(config HeaderConfig) {
	if u.personality == PersonalityMachine {
		u.headerMachine(config)
		return
	}

	if u.personality == PersonalityMinimal {
		u.headerMinimal(config)
		return
	}

	u.headerFull(config)
}

// headerMachine renders the header in machine-readable format.
func (u *terminalChatUI) headerMachine(config HeaderConfig) {
	if config.Mode == ChatModeAdaptive {
		parts := []string{fmt.Sprintf("mode=adaptive learner=%s", config.LearnerID)}
		if config.SessionID != "" {
			parts = append(parts, fmt.Sprintf("session=%s", config.SessionID))
		}
		if config.LearnerStats != nil {
			parts = append(parts, fmt.Sprintf("concepts=%d", config.LearnerStats.ConceptCount))
			parts = append(parts, fmt.Sprintf("mastered=%d", config.LearnerStats.MasteredCount))
			if config.LearnerStats.LastActiveAt > 0 {
				parts = append(parts, fmt.Sprintf("last_active=%d", config.LearnerStats.LastActiveAt))
			}
		}
		if config.ServerURL != "" {
			parts = append(parts, fmt.Sprintf("server=%s", config.ServerURL))
		}
		u.write("CHAT_START: %s\n", strings.Join(parts, " "))
	} else {
		parts := []string{"mode=anonymous"}
		if config.SessionID != "" {
			parts = append(parts, fmt.Sprintf("session=%s", config.SessionID))
		}
		u.write("CHAT_START: %s\n", strings.Join(parts, " "))
	}
}

// headerMinimal renders the header in minimal format.
func (u *terminalChatUI) headerMinimal(config HeaderConfig) {
	if config.Mode == ChatModeAdaptive {
		u.write("Adaptive Tutoring (learner: %s)\n", config.LearnerID)
		if config.LearnerStats != nil {
			u.write("Profile: %d concepts, %d mastered\n",
				config.LearnerStats.ConceptCount, config.LearnerStats.MasteredCount)
		}
	} else {
		u.writeln("Anonymous Tutoring (no profile)")
	}
	u.writeln("Type 'exit' to end.")
}

// headerFull renders the header with full styling.
func (u *terminalChatUI) headerFull(config HeaderConfig) {
	var content strings.Builder
	if config.Mode == ChatModeAdaptive {
		content.WriteString(Styles.Highlight.Render("Adaptive Tutoring"))
		content.WriteString("\n")
		content.WriteString(fmt.Sprintf("Learner: %s", Styles.Success.Render(config.LearnerID)))

		// Add profile stats when available
		if config.LearnerStats != nil {
			stats := config.LearnerStats
			// Format: "Profile: 142 concepts, 38 mastered, active 2h ago"
			statsInfo := fmt.Sprintf("%d concepts, %d mastered", stats.ConceptCount, stats.MasteredCount)
			if stats.LastActiveAt > 0 {
				statsInfo = fmt.Sprintf("%s, active %s", statsInfo, formatRelativeTime(stats.LastActiveAt))
			}
			content.WriteString("\n")
			content.WriteString(fmt.Sprintf("Profile: %s", Styles.Muted.Render(statsInfo)))
		}
	} else {
		content.WriteString(Styles.Warning.Render("Anonymous Tutoring"))
		content.WriteString("\n")
		content.WriteString(Styles.Muted.Render("(no learner profile, nothing saved)"))
	}

	if config.SessionID != "" {
		content.WriteString("\n")
		content.WriteString(fmt.Sprintf("Session: %s", Styles.Muted.Render(config.SessionID)))
	}

	boxStyle := Styles.Box.Width(60)
	u.writeln(boxStyle.Render(content.String()))
	u.writeln()
	u.writeln(Styles.Muted.Render("Type 'exit' to end, '/help' for commands."))
	u.writeln()
}

// Prompt returns the styled input prompt string
func (u *terminalChatUI) Prompt() string {
	if u.personality == PersonalityMachine {
		return "> "
	}
	return Styles.Highlight.Render("> ")
}

// Response displays the tutor's complete answer
func (u *terminalChatUI) Response(answer string) {
	if u.personality == PersonalityMachine {
		u.write("RESPONSE: %s\n", answer)
		return
	}
	u.writeln()
	u.writeln(answer)
}

// Metadata displays detected concepts and suggested followups.
func (u *terminalChatUI) Metadata(metadata *TeachMetadata) {
	if metadata == nil {
		return
	}

	if u.personality == PersonalityMachine {
		for _, concept := range metadata.DetectedConcepts {
			u.write("CONCEPT: %s\n", concept)
		}
		for _, followup := range metadata.SuggestedFollowups {
			u.write("FOLLOWUP: %s\n", followup)
		}
		if metadata.Strategy != nil {
			u.write("STRATEGY: %s confidence=%.2f\n",
				metadata.Strategy.Approach, metadata.Strategy.Confidence)
		}
		return
	}

	if len(metadata.DetectedConcepts) == 0 && len(metadata.SuggestedFollowups) == 0 {
		return
	}

	u.writeln()
	if u.personality == PersonalityMinimal {
		if len(metadata.DetectedConcepts) > 0 {
			u.write("Concepts: %s\n", strings.Join(metadata.DetectedConcepts, ", "))
		}
		if len(metadata.SuggestedFollowups) > 0 {
			u.writeln("Ask next:")
			for _, followup := range metadata.SuggestedFollowups {
				u.write("  - %s\n", followup)
			}
		}
		return
	}

	// Full personality with styled box
	var content strings.Builder
	if len(metadata.DetectedConcepts) > 0 {
		content.WriteString(fmt.Sprintf("%s %s",
			IconBook.Render(),
			strings.Join(metadata.DetectedConcepts, ", ")))
	}
	if len(metadata.SuggestedFollowups) > 0 {
		if content.Len() > 0 {
			content.WriteString("\n")
		}
		content.WriteString(Styles.Subtitle.Render("Ask next:"))
		for _, followup := range metadata.SuggestedFollowups {
			content.WriteString(fmt.Sprintf("\n%s %s", IconArrow.Render(), truncate(followup, 70)))
		}
	}

	boxStyle := Styles.InfoBox.Width(76)
	u.writeln(boxStyle.Render(content.String()))
}

// Error displays a chat error message
func (u *terminalChatUI) Error(err error) {
	if u.personality == PersonalityMachine {
		u.write("CHAT_ERROR: %v\n", err)
		return
	}
	u.write("%s %s\n", IconError.Render(), Styles.Error.Render(fmt.Sprintf("Chat error: %v", err)))
}

// SessionResume displays session resume information
func (u *terminalChatUI) SessionResume(sessionID string, turnCount int) {
	if u.personality == PersonalityMachine {
		u.write("SESSION_RESUME: session=%s turns=%d\n", sessionID, turnCount)
		return
	}
	u.write("%s %s\n", IconSuccess.Render(),
		Styles.Success.Render(fmt.Sprintf("Resumed session %s (%d previous turns)", sessionID, turnCount)))
}

// SessionEnd displays session end information.
//
// # Description
//
// Displays a simple goodbye message with the session ID. For a richer
// experience with statistics and next steps, use SessionEndRich instead.
//
// # Inputs
//
//   - sessionID: The session identifier. May be empty for anonymous sessions.
//
// # Outputs
//
// None. Writes directly to the configured writer.
func (u *terminalChatUI) SessionEnd(sessionID string) {
	if u.personality == PersonalityMachine {
		u.write("CHAT_END: session=%s\n", sessionID)
		return
	}
	if sessionID != "" {
		u.writeln(Styles.Muted.Render(fmt.Sprintf("Session: %s", sessionID)))
	}
	u.writeln("Good luck with your studies!")
}

// SessionEndRich displays rich session end information with statistics.
//
// # Description
//
// Displays a comprehensive session summary including:
//   - Session ID with visual prominence
//   - Session statistics (messages, tokens, concepts, duration)
//   - Performance metrics (time to first response)
//   - Commands for resuming the session later
//
// # Inputs
//
//   - sessionID: The session identifier. May be empty for anonymous sessions.
//   - stats: Session statistics. If nil, falls back to SessionEnd behavior.
//
// # Outputs
//
// None. Writes directly to the configured writer.
func (u *terminalChatUI) SessionEndRich(sessionID string, stats *SessionStats) {
	// Fall back to simple end if no stats
	if stats == nil {
		u.SessionEnd(sessionID)
		return
	}

	if u.personality == PersonalityMachine {
		u.sessionEndRichMachine(sessionID, stats)
		return
	}

	if u.personality == PersonalityMinimal {
		u.sessionEndRichMinimal(sessionID, stats)
		return
	}

	u.sessionEndRichFull(sessionID, stats)
}

// sessionEndRichMachine renders session end in machine-readable format.
func (u *terminalChatUI) sessionEndRichMachine(sessionID string, stats *SessionStats) {
	u.write("CHAT_END: session=%s messages=%d tokens=%d concepts=%d duration=%s\n",
		sessionID, stats.MessageCount, stats.TotalTokens,
		len(stats.ConceptsCovered), stats.Duration.Round(time.Millisecond))
}

// sessionEndRichMinimal renders session end in minimal format.
func (u *terminalChatUI) sessionEndRichMinimal(sessionID string, stats *SessionStats) {
	u.writeln()
	if sessionID != "" {
		u.write("Session: %s\n", sessionID)
	}
	u.write("Messages: %d | Tokens: %d | Duration: %s\n",
		stats.MessageCount, stats.TotalTokens, formatDuration(stats.Duration))
	if len(stats.ConceptsCovered) > 0 {
		u.write("Covered: %s\n", strings.Join(stats.ConceptsCovered, ", "))
	}
	u.writeln("Good luck with your studies!")
}

// sessionEndRichFull renders session end with full styling.
//
// # Description
//
// Outputs a comprehensive, styled session summary in a bordered box.
// Includes all available statistics and hints for continuing the session.
//
// # Inputs
//
//   - sessionID: The session identifier.
//   - stats: Session statistics to display.
//
// # Outputs
//
// None. Writes styled box with:
//   - Session Summary header with ID
//   - Statistics section with icons
//   - Continue Later section with resume command
//   - Goodbye message
//
// # Limitations
//
//   - Requires terminal width >= 68 characters for proper rendering
//   - Icons require Unicode support
//
// # Assumptions
//
//   - Stats is non-nil (caller validates)
//   - Terminal supports ANSI color codes
func (u *terminalChatUI) sessionEndRichFull(sessionID string, stats *SessionStats) {
	u.writeln()

	var content strings.Builder

	// Session section
	content.WriteString(Styles.Subtitle.Render("Session Summary"))
	content.WriteString("\n\n")

	// Session ID with visual prominence
	if sessionID != "" {
		content.WriteString(fmt.Sprintf("  %s  %s\n",
			Styles.Muted.Render("ID:"),
			Styles.Highlight.Render(sessionID)))
	}

	// Stats section
	content.WriteString("\n")
	content.WriteString(Styles.Subtitle.Render("Statistics"))
	content.WriteString("\n\n")

	// Core metrics with icons
	content.WriteString(fmt.Sprintf("  %s  %d questions asked\n",
		IconChat.Render(), stats.MessageCount))
	content.WriteString(fmt.Sprintf("  %s  %d tokens generated\n",
		IconInfo.Render(), stats.TotalTokens))

	// Thinking tokens (conditional)
	if stats.ThinkingTokens > 0 {
		content.WriteString(fmt.Sprintf("  %s  %d thinking tokens\n",
			Styles.Muted.Render("🧠"), stats.ThinkingTokens))
	}

	// Concepts covered (conditional)
	if len(stats.ConceptsCovered) > 0 {
		content.WriteString(fmt.Sprintf("  %s  %d concepts covered: %s\n",
			IconBook.Render(), len(stats.ConceptsCovered),
			truncate(strings.Join(stats.ConceptsCovered, ", "), 48)))
	}

	// Duration
	content.WriteString(fmt.Sprintf("  %s  %s session duration\n",
		IconTime.Render(), formatDuration(stats.Duration)))

	// Performance metrics (conditional)
	if stats.FirstResponseLatency > 0 {
		content.WriteString(fmt.Sprintf("  %s  %s time to first response\n",
			Styles.Muted.Render("⚡"), formatDuration(stats.FirstResponseLatency)))
	}

	// Next steps section (only if session ID available)
	if sessionID != "" {
		content.WriteString("\n")
		content.WriteString(Styles.Subtitle.Render("Continue Later"))
		content.WriteString("\n\n")
		content.WriteString(fmt.Sprintf("  %s\n",
			Styles.Muted.Render("Resume this session:")))
		content.WriteString(fmt.Sprintf("  %s\n",
			Styles.Success.Render(fmt.Sprintf("praxis chat --resume %s", sessionID))))
	}

	// Width 68 accommodates the resume command (20 chars + 36 char UUID + padding)
	boxStyle := Styles.Box.Width(68)
	u.writeln(boxStyle.Render(content.String()))
	u.writeln()
	u.writeln(Styles.Highlight.Render("Good luck with your studies! 👋"))
}

// Integrity displays the hash chain verification outcome.
func (u *terminalChatUI) Integrity(info *IntegrityInfo) {
	if info == nil {
		return
	}

	if u.personality == PersonalityMachine {
		u.write("INTEGRITY: verified=%t chain_length=%d hash=%s\n",
			info.IntegrityVerified, info.ChainLength, info.ChainHash)
		return
	}

	if info.IntegrityVerified {
		u.writeln(Styles.Muted.Render(info.FormatForDisplay()))
		return
	}
	u.write("%s %s\n", IconWarning.Render(),
		Styles.Warning.Render(fmt.Sprintf("Integrity check failed: %s", info.VerificationError)))
}

// formatDuration formats a duration for human-readable display.
//
// # Examples
//
//	formatDuration(500*time.Millisecond) // "500ms"
//	formatDuration(5*time.Second)        // "5.0s"
//	formatDuration(90*time.Second)       // "1m 30s"
//	formatDuration(2*time.Hour)          // "2h 0m"
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		mins := int(d.Minutes())
		secs := int(d.Seconds()) % 60
		if secs == 0 {
			return fmt.Sprintf("%dm", mins)
		}
		return fmt.Sprintf("%dm %ds", mins, secs)
	}
	hours := int(d.Hours())
	mins := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh %dm", hours, mins)
}

// formatRelativeTime converts a Unix milliseconds timestamp to a relative
// time string like "2h ago" or "3 days ago". Returns "just now" for times
// within the last minute and the date for anything older than a month.
func formatRelativeTime(unixMs int64) string {
	if unixMs == 0 {
		return "unknown"
	}

	t := time.UnixMilli(unixMs)
	diff := time.Since(t)

	if diff < time.Minute {
		return "just now"
	}
	if diff < time.Hour {
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1 min ago"
		}
		return fmt.Sprintf("%d mins ago", mins)
	}
	if diff < 24*time.Hour {
		hours := int(diff.Hours())
		if hours == 1 {
			return "1h ago"
		}
		return fmt.Sprintf("%dh ago", hours)
	}
	if diff < 7*24*time.Hour {
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	}
	if diff < 30*24*time.Hour {
		weeks := int(diff.Hours() / (24 * 7))
		if weeks == 1 {
			return "1 week ago"
		}
		return fmt.Sprintf("%d weeks ago", weeks)
	}

	// For older times, show the date
	return t.Format("Jan 2, 2006")
}

// truncate shortens a string to maxLen characters, appending "..." when
// content is cut. A maxLen of 3 or less yields just the ellipsis.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."
	}
	return s[:maxLen-3] + "..."
}

// Convenience functions that use the default ChatUI (for backward compatibility)

var defaultChatUI ChatUI

func getDefaultChatUI() ChatUI {
	if defaultChatUI == nil {
		defaultChatUI = NewChatUI()
	}
	return defaultChatUI
}

// ChatHeader prints the session header (convenience function)
func ChatHeader(mode ChatMode, learnerID string, sessionID string) {
	getDefaultChatUI().Header(mode, learnerID, sessionID)
}

// ChatPrompt returns the styled prompt string (convenience function)
func ChatPrompt() string {
	return getDefaultChatUI().Prompt()
}

// ChatResponse prints the tutor's answer (convenience function)
func ChatResponse(answer string) {
	getDefaultChatUI().Response(answer)
}

// ChatError prints a chat error (convenience function)
func ChatError(err error) {
	getDefaultChatUI().Error(err)
}

// ChatSessionResume prints session resume info (convenience function)
func ChatSessionResume(sessionID string, turnCount int) {
	getDefaultChatUI().SessionResume(sessionID, turnCount)
}

// ChatSessionEnd prints session end info (convenience function)
func ChatSessionEnd(sessionID string) {
	getDefaultChatUI().SessionEnd(sessionID)
}
