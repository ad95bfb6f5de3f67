package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var identityFaceCmd = &cobra.Command{
	Use:   "face",
	Short: "Move faces in and out of an identity",
	Long: `Commands for reviewing the faces of one identity.

Examples:
  rhodesli identity face add 0b6e1c1a-... face_12 face_40
  rhodesli identity face promote 0b6e1c1a-... face_12
  rhodesli identity face reject 0b6e1c1a-... face_40
  rhodesli identity face detach 0b6e1c1a-... face_77`,
}

var identityFaceAddCmd = &cobra.Command{
	Use:   "add <identity-id> <face-id>...",
	Short: "Add faces as candidates",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runIdentityFaceAdd,
}

var identityFacePromoteCmd = &cobra.Command{
	Use:   "promote <identity-id> <face-id>",
	Short: "Promote a candidate face to anchor",
	Args:  cobra.ExactArgs(2),
	RunE:  runIdentityFaceOp("promote"),
}

var identityFaceDemoteCmd = &cobra.Command{
	Use:   "demote <identity-id> <face-id>",
	Short: "Demote an anchor face to candidate",
	Args:  cobra.ExactArgs(2),
	RunE:  runIdentityFaceOp("demote"),
}

var identityFaceRemoveCmd = &cobra.Command{
	Use:   "remove <identity-id> <face-id>",
	Short: "Remove a face from an identity",
	Args:  cobra.ExactArgs(2),
	RunE:  runIdentityFaceOp("remove"),
}

var identityFaceRejectCmd = &cobra.Command{
	Use:   "reject <identity-id> <face-id>",
	Short: "Remove a face and record that it is not this person",
	Args:  cobra.ExactArgs(2),
	RunE:  runIdentityFaceOp("reject"),
}

var identityFaceDetachCmd = &cobra.Command{
	Use:   "detach <identity-id> <face-id>",
	Short: "Move a face into a new identity of its own",
	Args:  cobra.ExactArgs(2),
	RunE:  runIdentityFaceOp("detach"),
}

func init() {
	identityCmd.AddCommand(identityFaceCmd)
	identityFaceCmd.AddCommand(identityFaceAddCmd, identityFacePromoteCmd, identityFaceDemoteCmd,
		identityFaceRemoveCmd, identityFaceRejectCmd, identityFaceDetachCmd)
}

func runIdentityFaceAdd(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	added, err := s.identities.AddCandidates(cmd.Context(), args[0], args[1:], actor(cmd))
	if err != nil {
		return fmt.Errorf("add candidates: %w", err)
	}
	fmt.Printf("Added %d candidate face(s) to %s\n", added, args[0])
	return nil
}

func runIdentityFaceOp(op string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		ctx := cmd.Context()
		id, faceID, by := args[0], args[1], actor(cmd)

		switch op {
		case "promote":
			err = s.identities.PromoteCandidate(ctx, id, faceID, by)
		case "demote":
			err = s.identities.DemoteAnchor(ctx, id, faceID, by)
		case "remove":
			err = s.identities.RemoveFace(ctx, id, faceID, by)
		case "reject":
			err = s.identities.RejectFace(ctx, id, faceID, by)
		case "detach":
			var newID string
			newID, err = s.identities.DetachFace(ctx, id, faceID, by)
			if err == nil {
				fmt.Printf("Detached %s into new identity %s\n", faceID, newID)
				return nil
			}
		}
		if err != nil {
			return fmt.Errorf("%s face %s: %w", op, faceID, err)
		}
		fmt.Printf("Face %s: %s done on %s\n", faceID, op, id)
		return nil
	}
}
