package cmd

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/NolanFox/rhodesli/internal/embedding"
	"github.com/NolanFox/rhodesli/internal/matching"
)

var suggestCmd = &cobra.Command{
	Use:   "suggest <face-id>",
	Short: "Suggest identities for a single face",
	Long: `Suggest the identities a face most likely belongs to, using an approximate
nearest-neighbor index over the anchor faces of live identities.

The index is rebuilt from the registry on every run unless --index-cache is
given, in which case a saved index is reused and written after a rebuild.
A cache whose faces or owners no longer match the registry is rebuilt.

Examples:
  rhodesli suggest f_0192
  rhodesli suggest f_0192 --k 10 --index-cache data/faces.hnsw
  rhodesli suggest f_0192 --index-cache data/faces.hnsw --rebuild`,
	Args: cobra.ExactArgs(1),
	RunE: runSuggest,
}

func init() {
	rootCmd.AddCommand(suggestCmd)
	suggestCmd.Flags().Int("k", 5, "Number of identities to suggest")
	suggestCmd.Flags().String("index-cache", "", "Path of a saved face index to reuse")
	suggestCmd.Flags().Bool("rebuild", false, "Rebuild the face index even when a cache exists")
	suggestCmd.Flags().Bool("json", false, "Output as JSON")
}

// SuggestOutput is the JSON output of suggest.
type SuggestOutput struct {
	FaceID      string                `json:"face_id"`
	OwnerID     string                `json:"owner_id,omitempty"`
	IndexSize   int                   `json:"index_size"`
	Suggestions []matching.Suggestion `json:"suggestions"`
}

func runSuggest(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	store, err := s.embeddings(cmd.Context())
	if err != nil {
		return err
	}

	index, err := s.faceIndex(cmd, store)
	if err != nil {
		return err
	}

	faceID := args[0]
	suggestions, err := s.engine().SuggestIdentitiesForFace(index, faceID, s.identities, s.identities, store, mustGetInt(cmd, "k"))
	if err != nil {
		return err
	}

	out := SuggestOutput{FaceID: faceID, IndexSize: index.Len(), Suggestions: suggestions}
	if owner, ok := s.identities.IdentityForFace(faceID); ok {
		out.OwnerID = owner
	}
	if out.Suggestions == nil {
		out.Suggestions = []matching.Suggestion{}
	}

	if mustGetBool(cmd, "json") {
		return outputJSON(out)
	}

	if out.OwnerID != "" {
		fmt.Printf("Face %s currently belongs to %s\n", faceID, out.OwnerID)
	}
	if len(suggestions) == 0 {
		fmt.Println("No suggestions")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "IDENTITY\tNAME\tDISTANCE\tTIER\tCLOSEST FACE")
	fmt.Fprintln(w, "--------\t----\t--------\t----\t------------")
	for _, sg := range suggestions {
		fmt.Fprintf(w, "%s\t%s\t%.4f\t%s\t%s\n", sg.IdentityID, sg.Name, sg.Distance, sg.Tier, sg.MatchFaceID)
	}
	w.Flush()
	return nil
}

// faceIndex loads the cached index or builds a fresh one, saving it when a
// cache path is configured.
func (s *session) faceIndex(cmd *cobra.Command, store embedding.Store) (*matching.FaceIndex, error) {
	path := mustGetString(cmd, "index-cache")
	if path != "" && !mustGetBool(cmd, "rebuild") {
		index, err := matching.LoadFaceIndex(path, s.logger)
		switch {
		case err == nil && !index.Stale(s.identities, store):
			return index, nil
		case err == nil:
			s.logger.Info("face index cache out of date, rebuilding", zap.String("path", path))
		case !errors.Is(err, os.ErrNotExist):
			s.logger.Warn("face index cache unusable, rebuilding", zap.String("path", path), zap.Error(err))
		}
	}

	index := matching.BuildFaceIndex(s.identities, store, s.logger)
	if path != "" {
		if err := index.Save(path); err != nil {
			return nil, fmt.Errorf("save face index: %w", err)
		}
		s.logger.Info("face index saved", zap.String("path", path), zap.Int("faces", index.Len()))
	}
	return index, nil
}
