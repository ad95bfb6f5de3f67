package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/NolanFox/rhodesli/internal/mergecheck"
)

var validateMergeCmd = &cobra.Command{
	Use:   "validate-merge <identity-a> <identity-b>",
	Short: "Check whether two identities can be merged",
	Long: `Check whether two identities can be merged without changing anything.

A merge is refused when the identities have faces in the same photo, when
they were recorded as different people, or when they are the same identity.
Merged identities are followed to their survivor.`,
	Args: cobra.ExactArgs(2),
	RunE: runValidateMerge,
}

func init() {
	rootCmd.AddCommand(validateMergeCmd)
	validateMergeCmd.Flags().Bool("json", false, "Output as JSON")
}

// ValidateMergeOutput is the JSON output of validate-merge.
type ValidateMergeOutput struct {
	IdentityA    string   `json:"identity_a"`
	IdentityB    string   `json:"identity_b"`
	CanMerge     bool     `json:"can_merge"`
	Reason       string   `json:"reason"`
	SharedPhotos []string `json:"shared_photos,omitempty"`
}

func runValidateMerge(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	out := ValidateMergeOutput{IdentityA: args[0], IdentityB: args[1], Reason: mergecheck.ReasonNotFound}
	a, okA := s.identities.Resolve(args[0])
	b, okB := s.identities.Resolve(args[1])
	if okA && okB {
		out.IdentityA, out.IdentityB = a, b
		out.CanMerge, out.Reason = mergecheck.New(s.logger.Named("mergecheck")).Validate(a, b, s.identities, s.photos)
		if out.Reason == mergecheck.ReasonCoOccurrence {
			facesA, _ := s.identities.MemberFaceIDs(a)
			facesB, _ := s.identities.MemberFaceIDs(b)
			out.SharedPhotos = mergecheck.SharedPhotos(s.photos.PhotosForFaces(facesA), s.photos.PhotosForFaces(facesB))
		}
	}

	if mustGetBool(cmd, "json") {
		return outputJSON(out)
	}

	if out.CanMerge {
		fmt.Printf("%s and %s can be merged\n", out.IdentityA, out.IdentityB)
		return nil
	}
	fmt.Printf("%s and %s cannot be merged: %s\n", out.IdentityA, out.IdentityB, out.Reason)
	for _, p := range out.SharedPhotos {
		fmt.Printf("  shared photo: %s\n", p)
	}
	return nil
}
