package cli

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MrWong99/clipforge/internal/config"
	"github.com/MrWong99/clipforge/internal/segment"
	"github.com/MrWong99/clipforge/internal/session"
)

func newPathsCmd(s *state) *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Show the input and artifact paths of a session",
		Long: "Resolves the participants of each session and prints every file a build would read " +
			"or write. Artifacts are listed for each manifest entry when the manifest can be read.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sessions, err := s.targetSessions()
			if err != nil {
				return err
			}
			for _, id := range sessions {
				if err := writePaths(cmd.OutOrStdout(), s.cfg, id); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func writePaths(w io.Writer, cfg *config.Config, sessionID string) error {
	paths := cfg.PathsBuilder()
	store, err := session.Open(session.NewOptions(cfg, sessionID))
	if err != nil {
		return err
	}
	cast := store.Participants()
	roster := store.Roster()

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "session %s\tdevice %s\ttarget %s\n", sessionID, cfg.Device, cast.Target)
	fmt.Fprintf(tw, "roster\t\t%s\n", paths.SessionInfo())

	for _, pid := range cast.All() {
		rec, err := paths.Recording(config.RecordingKey{Session: sessionID, Device: cfg.Device, PID: pid})
		if err != nil {
			return err
		}
		tr, err := paths.Transcript(config.TranscriptKey{Session: sessionID, PID: pid})
		if err != nil {
			return err
		}
		slot, _ := roster.Slot(pid)
		fmt.Fprintf(tw, "recording\t%s (%s, slot %d)\t%s\n", pid, role(cast, pid), slot, rec)
		fmt.Fprintf(tw, "transcript\t%s\t%s\n", pid, tr)
	}

	manifest, err := paths.Manifest(config.ManifestKey{Session: sessionID, Device: cfg.Device, PID: cast.Target})
	if err != nil {
		return err
	}
	ix, err := segment.Load(manifest)
	switch {
	case errors.Is(err, segment.ErrManifestNotFound):
		fmt.Fprintf(tw, "manifest\t(missing)\t%s\n", manifest)
		return tw.Flush()
	case err != nil:
		return err
	}
	fmt.Fprintf(tw, "manifest\t%d entries\t%s\n", ix.Len(), ix.Path)

	for i, d := range ix.Descriptors {
		fmt.Fprintf(tw, "segment\t%d\t[%.2f, %.2f) %.2fs\n", i, d.Target.StartTime, d.Target.EndTime, d.Target.Duration())
		for _, kind := range []config.ArtifactKind{config.ArtifactAudio, config.ArtifactVideo, config.ArtifactMix} {
			p, err := paths.Sample(config.SampleKey{Kind: kind, Session: sessionID, Device: cfg.Device, PID: cast.Target, Segment: i})
			if err != nil {
				return err
			}
			fmt.Fprintf(tw, "%s\t%d\t%s\n", kind, i, p)
		}
	}
	return tw.Flush()
}

func role(cast session.Participants, pid string) string {
	switch pid {
	case cast.Target:
		return "target"
	case cast.Wearer:
		return "wearer"
	default:
		return "partner"
	}
}
