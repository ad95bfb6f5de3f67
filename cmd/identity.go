package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/NolanFox/rhodesli/internal/identity"
)

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Inspect and edit identities",
	Long:  `Commands for listing, reviewing, naming, merging and rejecting identities.`,
}

var identityListCmd = &cobra.Command{
	Use:   "list",
	Short: "List identities",
	Long: `List live identities ordered by creation time.

Examples:
  rhodesli identity list
  rhodesli identity list --state CONFIRMED
  rhodesli identity list --include-merged --json`,
	Args: cobra.NoArgs,
	RunE: runIdentityList,
}

var identityShowCmd = &cobra.Command{
	Use:   "show <identity-id>",
	Short: "Show one identity",
	Long: `Show one identity with its faces and metadata.

Merged identities are shown as stored, including the survivor they point to.`,
	Args: cobra.ExactArgs(1),
	RunE: runIdentityShow,
}

var identitySearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search identities by name",
	Long: `Search live identities by name. Matching ignores case and diacritics.

Examples:
  rhodesli identity search capeluto
  rhodesli identity search "Leon" --exclude 0b6e1c1a-...`,
	Args: cobra.ExactArgs(1),
	RunE: runIdentitySearch,
}

var identityCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an identity from anchor faces",
	Long: `Create an identity from one or more anchor faces.

Examples:
  rhodesli identity create --anchor face_12 --anchor face_40
  rhodesli identity create --anchor face_12 --candidate face_77 --name "Victoria Cukran" --state PROPOSED`,
	Args: cobra.NoArgs,
	RunE: runIdentityCreate,
}

var identityRenameCmd = &cobra.Command{
	Use:   "rename <identity-id> <name>",
	Short: "Rename an identity",
	Args:  cobra.ExactArgs(2),
	RunE:  runIdentityRename,
}

var identitySetMetaCmd = &cobra.Command{
	Use:   "set-meta <identity-id> key=value...",
	Short: "Set identity metadata",
	Long: `Set metadata fields on an identity. An empty value clears the field.

Accepted keys: birth_year, death_year, birth_place, maiden_name, bio,
relationship_notes, generation_qualifier. Other keys are ignored.

Examples:
  rhodesli identity set-meta 0b6e1c1a-... birth_year=1902 birth_place=Rhodes
  rhodesli identity set-meta 0b6e1c1a-... maiden_name=`,
	Args: cobra.MinimumNArgs(2),
	RunE: runIdentitySetMeta,
}

var identityMergeCmd = &cobra.Command{
	Use:   "merge <source-id> <target-id>",
	Short: "Merge two identities",
	Long: `Merge the source identity into the target.

The merge is refused when the two identities have faces in the same photo.
When the source is better established (more anchors, or a more advanced
state), the direction is swapped and the target is absorbed instead.`,
	Args: cobra.ExactArgs(2),
	RunE: runIdentityMerge,
}

var identityUndoMergeCmd = &cobra.Command{
	Use:   "undo-merge <absorbed-id>",
	Short: "Undo the last merge of an absorbed identity",
	Args:  cobra.ExactArgs(1),
	RunE:  runIdentityUndoMerge,
}

var identityRejectCmd = &cobra.Command{
	Use:   "reject <identity-a> <identity-b>",
	Short: "Record that two identities are different people",
	Args:  cobra.ExactArgs(2),
	RunE:  runIdentityReject,
}

var identityUnrejectCmd = &cobra.Command{
	Use:   "unreject <identity-a> <identity-b>",
	Short: "Remove a recorded rejection between two identities",
	Args:  cobra.ExactArgs(2),
	RunE:  runIdentityUnreject,
}

var identityConfirmCmd = &cobra.Command{
	Use:   "confirm <identity-id>",
	Short: "Mark an identity as confirmed",
	Args:  cobra.ExactArgs(1),
	RunE:  runIdentityTransitionTo(identity.StateConfirmed),
}

var identitySkipCmd = &cobra.Command{
	Use:   "skip <identity-id>",
	Short: "Defer review of an identity",
	Args:  cobra.ExactArgs(1),
	RunE:  runIdentityTransitionTo(identity.StateSkipped),
}

var identityTransitionCmd = &cobra.Command{
	Use:   "transition <identity-id> <state>",
	Short: "Move an identity to another review state",
	Long: `Move an identity to another review state.

States: INBOX, PROPOSED, CONFIRMED, SKIPPED, REJECTED.`,
	Args: cobra.ExactArgs(2),
	RunE: runIdentityTransition,
}

var identityHistoryCmd = &cobra.Command{
	Use:   "history [identity-id]",
	Short: "Show the change history",
	Long:  `Show the change history of one identity, or of the whole registry.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runIdentityHistory,
}

func init() {
	rootCmd.AddCommand(identityCmd)
	identityCmd.AddCommand(identityListCmd, identityShowCmd, identitySearchCmd, identityCreateCmd,
		identityRenameCmd, identitySetMetaCmd, identityMergeCmd, identityUndoMergeCmd,
		identityRejectCmd, identityUnrejectCmd, identityConfirmCmd, identitySkipCmd,
		identityTransitionCmd, identityHistoryCmd)

	for _, c := range []*cobra.Command{
		identityListCmd, identityShowCmd, identitySearchCmd, identityCreateCmd, identityRenameCmd,
		identitySetMetaCmd, identityMergeCmd, identityUndoMergeCmd, identityRejectCmd,
		identityUnrejectCmd, identityConfirmCmd, identitySkipCmd, identityTransitionCmd, identityHistoryCmd,
	} {
		c.Flags().Bool("json", false, "Output as JSON")
	}

	identityListCmd.Flags().String("state", "", "Only list identities in this state")
	identityListCmd.Flags().Bool("include-merged", false, "Include merged identities")

	identitySearchCmd.Flags().String("exclude", "", "Identity ID to leave out of the results")

	identityCreateCmd.Flags().StringSlice("anchor", nil, "Anchor face ID (repeatable)")
	identityCreateCmd.Flags().StringSlice("candidate", nil, "Candidate face ID (repeatable)")
	identityCreateCmd.Flags().String("name", "", "Display name")
	identityCreateCmd.Flags().String("state", string(identity.StateInbox), "Initial state")
	identityCreateCmd.Flags().String("source", "manual", "Provenance source")
	identityCreateCmd.Flags().String("note", "", "Provenance note")
	_ = identityCreateCmd.MarkFlagRequired("anchor")
}

// identityView is the JSON shape of an identity in command output.
type identityView struct {
	ID           string              `json:"identity_id"`
	Name         string              `json:"name,omitempty"`
	State        identity.State      `json:"state"`
	AnchorIDs    []string            `json:"anchor_ids"`
	CandidateIDs []string            `json:"candidate_ids"`
	NegativeIDs  []string            `json:"negative_ids,omitempty"`
	MergedInto   string              `json:"merged_into,omitempty"`
	Provenance   identity.Provenance `json:"provenance"`
	Metadata     map[string]string   `json:"metadata,omitempty"`
	VersionID    int64               `json:"version_id"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

func newIdentityView(ident *identity.Identity) identityView {
	return identityView{
		ID:           ident.ID,
		Name:         ident.Name,
		State:        ident.State,
		AnchorIDs:    ident.AnchorIDs,
		CandidateIDs: ident.CandidateIDs,
		NegativeIDs:  ident.NegativeIDs,
		MergedInto:   ident.MergedInto,
		Provenance:   ident.Provenance,
		Metadata:     ident.Metadata,
		VersionID:    ident.VersionID,
		CreatedAt:    ident.CreatedAt,
		UpdatedAt:    ident.UpdatedAt,
	}
}

func runIdentityList(cmd *cobra.Command, _ []string) error {
	jsonOutput := mustGetBool(cmd, "json")
	state := identity.State(strings.ToUpper(mustGetString(cmd, "state")))
	if state != "" && !state.Valid() {
		return fmt.Errorf("unknown state %q", state)
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	idents := s.identities.ListIdentities(identity.ListOptions{
		State:         state,
		IncludeMerged: mustGetBool(cmd, "include-merged"),
	})

	if jsonOutput {
		views := make([]identityView, 0, len(idents))
		for _, ident := range idents {
			views = append(views, newIdentityView(ident))
		}
		return outputJSON(views)
	}

	printIdentityTable(idents)
	fmt.Printf("\nTotal: %d identities\n", len(idents))
	return nil
}

func printIdentityTable(idents []*identity.Identity) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATE\tANCHORS\tCANDIDATES\tUPDATED")
	fmt.Fprintln(w, "--\t----\t-----\t-------\t----------\t-------")
	for _, ident := range idents {
		state := string(ident.State)
		if ident.IsTombstone() {
			state = "MERGED → " + ident.MergedInto
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			ident.ID, ident.Name, state, len(ident.AnchorIDs), len(ident.CandidateIDs),
			ident.UpdatedAt.Format(time.DateTime))
	}
	w.Flush()
}

func runIdentityShow(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ident, ok := s.identities.Identity(args[0])
	if !ok {
		return fmt.Errorf("identity %s not found", args[0])
	}

	if mustGetBool(cmd, "json") {
		return outputJSON(newIdentityView(ident))
	}

	fmt.Printf("Identity: %s\n", ident.ID)
	if ident.Name != "" {
		fmt.Printf("  Name:       %s\n", ident.Name)
	}
	fmt.Printf("  State:      %s\n", ident.State)
	if ident.IsTombstone() {
		fmt.Printf("  Merged into: %s\n", ident.MergedInto)
	}
	fmt.Printf("  Version:    %d\n", ident.VersionID)
	fmt.Printf("  Source:     %s\n", ident.Provenance.Source)
	fmt.Printf("  Created:    %s\n", ident.CreatedAt.Format(time.DateTime))
	fmt.Printf("  Updated:    %s\n", ident.UpdatedAt.Format(time.DateTime))

	fmt.Printf("\nAnchors (%d):\n", len(ident.AnchorIDs))
	for _, f := range ident.AnchorIDs {
		photoID, _ := s.photos.PhotoForFace(f)
		fmt.Printf("  %s\t%s\n", f, photoID)
	}
	fmt.Printf("\nCandidates (%d):\n", len(ident.CandidateIDs))
	for _, f := range ident.CandidateIDs {
		photoID, _ := s.photos.PhotoForFace(f)
		fmt.Printf("  %s\t%s\n", f, photoID)
	}
	if len(ident.NegativeIDs) > 0 {
		fmt.Printf("\nRejected (%d):\n", len(ident.NegativeIDs))
		for _, n := range ident.NegativeIDs {
			fmt.Printf("  %s\n", n)
		}
	}
	if len(ident.Metadata) > 0 {
		keys := make([]string, 0, len(ident.Metadata))
		for k := range ident.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Println("\nMetadata:")
		for _, k := range keys {
			fmt.Printf("  %s: %s\n", k, ident.Metadata[k])
		}
	}
	return nil
}

func runIdentitySearch(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	idents := s.identities.SearchIdentities(args[0], mustGetString(cmd, "exclude"))
	if mustGetBool(cmd, "json") {
		views := make([]identityView, 0, len(idents))
		for _, ident := range idents {
			views = append(views, newIdentityView(ident))
		}
		return outputJSON(views)
	}

	if len(idents) == 0 {
		fmt.Println("No identities found")
		return nil
	}
	printIdentityTable(idents)
	return nil
}

// IdentityCreateOutput is the JSON output of identity create.
type IdentityCreateOutput struct {
	IdentityID string   `json:"identity_id"`
	AnchorIDs  []string `json:"anchor_ids"`
}

func runIdentityCreate(cmd *cobra.Command, _ []string) error {
	anchors := mustGetStringSlice(cmd, "anchor")
	opts := identity.CreateOptions{
		State:        identity.State(strings.ToUpper(mustGetString(cmd, "state"))),
		Name:         mustGetString(cmd, "name"),
		CandidateIDs: mustGetStringSlice(cmd, "candidate"),
		Actor:        actor(cmd),
	}
	if note := mustGetString(cmd, "note"); note != "" {
		opts.Provenance = &identity.Provenance{Source: mustGetString(cmd, "source"), Actor: opts.Actor, Note: note}
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	id, err := s.identities.CreateIdentity(cmd.Context(), anchors, mustGetString(cmd, "source"), opts)
	if err != nil {
		return fmt.Errorf("create identity: %w", err)
	}

	if mustGetBool(cmd, "json") {
		return outputJSON(IdentityCreateOutput{IdentityID: id, AnchorIDs: anchors})
	}
	fmt.Printf("Created identity %s with %d anchor(s)\n", id, len(anchors))
	return nil
}

// ChangeOutput is the JSON output of single-identity edits.
type ChangeOutput struct {
	IdentityID string   `json:"identity_id"`
	Changed    bool     `json:"changed"`
	Keys       []string `json:"keys,omitempty"`
}

func runIdentityRename(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ok, err := s.identities.RenameIdentity(cmd.Context(), args[0], args[1], actor(cmd))
	if err != nil {
		return fmt.Errorf("rename identity: %w", err)
	}
	if mustGetBool(cmd, "json") {
		return outputJSON(ChangeOutput{IdentityID: args[0], Changed: ok})
	}
	if !ok {
		return fmt.Errorf("identity %s not found or merged", args[0])
	}
	fmt.Printf("Renamed %s to %q\n", args[0], args[1])
	return nil
}

func runIdentitySetMeta(cmd *cobra.Command, args []string) error {
	meta := make(map[string]string, len(args)-1)
	for _, kv := range args[1:] {
		key, value, found := strings.Cut(kv, "=")
		if !found || key == "" {
			return fmt.Errorf("invalid metadata %q, expected key=value", kv)
		}
		meta[key] = value
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	applied, ok, err := s.identities.SetMetadata(cmd.Context(), args[0], meta, actor(cmd))
	if err != nil {
		return fmt.Errorf("set metadata: %w", err)
	}
	if mustGetBool(cmd, "json") {
		return outputJSON(ChangeOutput{IdentityID: args[0], Changed: ok, Keys: applied})
	}
	if !ok {
		return fmt.Errorf("identity %s not found or merged", args[0])
	}
	if len(applied) == 0 {
		fmt.Println("No accepted metadata keys given")
		return nil
	}
	fmt.Printf("Updated %s: %s\n", args[0], strings.Join(applied, ", "))
	return nil
}

func runIdentityMerge(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := s.identities.MergeIdentities(cmd.Context(), args[0], args[1], actor(cmd), s.photos)
	if err != nil {
		return fmt.Errorf("merge identities: %w", err)
	}

	if mustGetBool(cmd, "json") {
		return outputJSON(res)
	}

	switch res.Status {
	case identity.StatusMerged:
		fmt.Printf("Merged %s into %s (%d faces moved)\n", res.AbsorbedID, res.SurvivorID, res.FacesMoved)
		if res.DirectionSwapped {
			fmt.Println("  Direction swapped: the source identity was better established")
		}
	case identity.StatusBlocked:
		fmt.Printf("Merge blocked: %s\n", res.Reason)
	case identity.StatusNoop:
		fmt.Printf("Nothing to merge: %s\n", res.Reason)
	case identity.StatusNotFound:
		return fmt.Errorf("merge: identity not found")
	}
	return nil
}

func runIdentityUndoMerge(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.identities.UndoMerge(cmd.Context(), args[0], actor(cmd)); err != nil {
		return fmt.Errorf("undo merge: %w", err)
	}
	if mustGetBool(cmd, "json") {
		return outputJSON(ChangeOutput{IdentityID: args[0], Changed: true})
	}
	fmt.Printf("Restored identity %s\n", args[0])
	return nil
}

func runIdentityReject(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := s.identities.RejectIdentityPair(cmd.Context(), args[0], args[1], actor(cmd))
	if err != nil {
		return fmt.Errorf("reject identities: %w", err)
	}
	return printRejectResult(cmd, res)
}

func runIdentityUnreject(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := s.identities.UnrejectIdentityPair(cmd.Context(), args[0], args[1], actor(cmd))
	if err != nil {
		return fmt.Errorf("unreject identities: %w", err)
	}
	return printRejectResult(cmd, res)
}

func printRejectResult(cmd *cobra.Command, res identity.RejectResult) error {
	if mustGetBool(cmd, "json") {
		return outputJSON(res)
	}
	switch res.Status {
	case identity.StatusRejected:
		fmt.Printf("Recorded %s and %s as different people\n", res.A, res.B)
	case identity.StatusUnrejected:
		fmt.Printf("Removed rejection between %s and %s\n", res.A, res.B)
	case identity.StatusNoop:
		fmt.Println("Nothing to change")
	case identity.StatusNotFound:
		return fmt.Errorf("identity not found")
	}
	return nil
}

func runIdentityTransitionTo(state identity.State) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return transitionIdentity(cmd, args[0], state)
	}
}

func runIdentityTransition(cmd *cobra.Command, args []string) error {
	state := identity.State(strings.ToUpper(args[1]))
	if !state.Valid() {
		return fmt.Errorf("unknown state %q", args[1])
	}
	return transitionIdentity(cmd, args[0], state)
}

func transitionIdentity(cmd *cobra.Command, id string, state identity.State) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.identities.Transition(cmd.Context(), id, state, actor(cmd)); err != nil {
		return fmt.Errorf("transition %s to %s: %w", id, state, err)
	}
	if mustGetBool(cmd, "json") {
		return outputJSON(ChangeOutput{IdentityID: id, Changed: true})
	}
	fmt.Printf("Identity %s is now %s\n", id, state)
	return nil
}

func runIdentityHistory(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	var id string
	if len(args) == 1 {
		id = args[0]
	}
	entries := s.identities.History(id)

	if mustGetBool(cmd, "json") {
		if entries == nil {
			entries = []identity.HistoryEntry{}
		}
		return outputJSON(entries)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tIDENTITY\tACTION\tACTOR\tDETAIL")
	fmt.Fprintln(w, "----\t--------\t------\t-----\t------")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Format(time.DateTime), e.IdentityID, e.Action, e.Actor, historyDetail(e))
	}
	w.Flush()
	fmt.Printf("\nTotal: %d entries\n", len(entries))
	return nil
}

func historyDetail(e identity.HistoryEntry) string {
	var parts []string
	if e.PreviousState != "" || e.NewState != "" {
		parts = append(parts, fmt.Sprintf("%s→%s", e.PreviousState, e.NewState))
	}
	if e.NewName != "" {
		parts = append(parts, fmt.Sprintf("name=%q", e.NewName))
	}
	if e.OtherID != "" {
		parts = append(parts, "other="+e.OtherID)
	}
	if len(e.FaceIDs) > 0 {
		parts = append(parts, fmt.Sprintf("faces=%d", len(e.FaceIDs)))
	}
	if len(e.MetadataKeys) > 0 {
		parts = append(parts, "keys="+strings.Join(e.MetadataKeys, ","))
	}
	if e.Swapped {
		parts = append(parts, "swapped")
	}
	return strings.Join(parts, " ")
}
