package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/NolanFox/rhodesli/internal/matching"
)

var neighborsCmd = &cobra.Command{
	Use:   "neighbors <identity-id>",
	Short: "Rank the identities most likely to be the same person",
	Long: `Rank live identities by the closest distance between their anchor faces
and the anchor faces of the given identity.

Each neighbor carries a confidence tier from the calibration, its percentile
within the scored candidates and its lead over the next candidate. Pairs
already recorded as different people are left out. Neighbors that share a
photo with the target are listed but marked as not mergeable.

Examples:
  rhodesli neighbors 0b6e1c1a-...
  rhodesli neighbors 0b6e1c1a-... --limit 25 --json`,
	Args: cobra.ExactArgs(1),
	RunE: runNeighbors,
}

func init() {
	rootCmd.AddCommand(neighborsCmd)
	neighborsCmd.Flags().Int("limit", 0, "Maximum neighbors to return (default from RHODESLI_NEIGHBOR_LIMIT)")
	neighborsCmd.Flags().Bool("all", false, "Return every scored candidate")
	neighborsCmd.Flags().Bool("json", false, "Output as JSON")
}

func runNeighbors(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	targetID, ok := s.identities.Resolve(args[0])
	if !ok {
		return fmt.Errorf("identity %s not found", args[0])
	}

	limit := mustGetInt(cmd, "limit")
	if limit <= 0 {
		limit = s.cfg.Matching.NeighborLimit
	}
	if mustGetBool(cmd, "all") {
		limit = 0
	}

	store, err := s.embeddings(cmd.Context())
	if err != nil {
		return err
	}
	res := s.engine().FindNearestNeighbors(targetID, s.identities, s.photos, store, limit)

	if mustGetBool(cmd, "json") {
		return outputJSON(res)
	}

	if targetID != args[0] {
		fmt.Printf("%s was merged into %s\n", args[0], targetID)
	}
	if len(res.Neighbors) == 0 {
		fmt.Println("No neighbors found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "IDENTITY\tNAME\tSTATE\tDISTANCE\tTIER\tPERCENTILE\tGAP\tMERGE")
	fmt.Fprintln(w, "--------\t----\t-----\t--------\t----\t----------\t---\t-----")
	for _, n := range res.Neighbors {
		merge := "ok"
		if !n.CanMerge {
			merge = n.MergeReason
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%.4f\t%s\t%.1f\t%.1f%%\t%s\n",
			n.IdentityID, n.Name, n.State, n.Distance, n.Tier, n.Percentile, n.ConfidenceGap, merge)
	}
	w.Flush()

	fmt.Printf("\nShowing %d of %d candidates", len(res.Neighbors), res.Scored)
	if res.Rejected > 0 {
		fmt.Printf(" (%d rejected pairs hidden)", res.Rejected)
	}
	fmt.Printf("\nCalibration: %s (version %d)\n", res.Calibration.Source, res.Calibration.Version)
	return nil
}

var outliersCmd = &cobra.Command{
	Use:   "outliers <identity-id>",
	Short: "List the faces of an identity that fit it worst",
	Long: `Score every face of an identity by its distance to the centroid of the
other faces, most distant first. Faces at the top of the list are the most
likely to have been assigned by mistake.`,
	Args: cobra.ExactArgs(1),
	RunE: runOutliers,
}

func init() {
	rootCmd.AddCommand(outliersCmd)
	outliersCmd.Flags().Int("limit", 0, "Maximum faces to list (0 = all)")
	outliersCmd.Flags().Bool("json", false, "Output as JSON")
}

func runOutliers(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	id, ok := s.identities.Resolve(args[0])
	if !ok {
		return fmt.Errorf("identity %s not found", args[0])
	}
	store, err := s.embeddings(cmd.Context())
	if err != nil {
		return err
	}

	outliers := matching.SortFacesByOutlierScore(id, s.identities, store)
	if limit := mustGetInt(cmd, "limit"); limit > 0 && len(outliers) > limit {
		outliers = outliers[:limit]
	}

	if mustGetBool(cmd, "json") {
		if outliers == nil {
			outliers = []matching.FaceOutlier{}
		}
		return outputJSON(outliers)
	}

	if len(outliers) == 0 {
		fmt.Println("Not enough faces with embeddings to score")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FACE\tPHOTO\tROLE\tDISTANCE")
	fmt.Fprintln(w, "----\t-----\t----\t--------")
	for _, o := range outliers {
		role := "candidate"
		if o.IsAnchor {
			role = "anchor"
		}
		photoID, _ := s.photos.PhotoForFace(o.FaceID)
		fmt.Fprintf(w, "%s\t%s\t%s\t%.4f\n", o.FaceID, photoID, role, o.Distance)
	}
	w.Flush()
	return nil
}
