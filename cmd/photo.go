package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/NolanFox/rhodesli/internal/photo"
)

var photoCmd = &cobra.Command{
	Use:   "photo",
	Short: "Photo index operations",
	Long:  `Commands for registering archive photos and the faces detected in them.`,
}

var photoRegisterCmd = &cobra.Command{
	Use:   "register <path>",
	Short: "Register one photo and its faces",
	Long: `Register one photo and the faces detected in it.

The photo ID is derived from the source and the file name unless --id is given.

Examples:
  rhodesli photo register scans/1931_wedding.jpg --source "Capeluto Family" --face f_0192 --face f_0193
  rhodesli photo register scans/1931_wedding.jpg --id legacy_0042 --face f_0192 --date-taken 1931`,
	Args: cobra.ExactArgs(1),
	RunE: runPhotoRegister,
}

var photoImportCmd = &cobra.Command{
	Use:   "import <manifest.json>",
	Short: "Register photos from a detection manifest",
	Long: `Register photos from a JSON manifest produced by the detection pipeline.

The manifest is a list of photos:

  [
    {
      "path": "scans/1931_wedding.jpg",
      "source": "Capeluto Family",
      "collection": "Wedding album",
      "face_ids": ["f_0192", "f_0193"],
      "width": 2400,
      "height": 1800,
      "metadata": {"date_taken": "1931", "location": "Rhodes"}
    }
  ]

A photo without "photo_id" gets an ID derived from its source and file name.`,
	Args: cobra.ExactArgs(1),
	RunE: runPhotoImport,
}

var photoSetSourceCmd = &cobra.Command{
	Use:   "set-source <photo-id> <source> [collection]",
	Short: "Correct the source and collection of a photo",
	Long: `Correct the archive source and collection recorded for a photo.

The photo keeps its ID; only the recorded provenance changes.`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runPhotoSetSource,
}

var photoShowCmd = &cobra.Command{
	Use:   "show <photo-id>",
	Short: "Show one photo and the identities of its faces",
	Args:  cobra.ExactArgs(1),
	RunE:  runPhotoShow,
}

func init() {
	rootCmd.AddCommand(photoCmd)
	photoCmd.AddCommand(photoRegisterCmd, photoImportCmd, photoSetSourceCmd, photoShowCmd)

	photoRegisterCmd.Flags().String("id", "", "Photo ID (derived from source and file name when empty)")
	photoRegisterCmd.Flags().StringSlice("face", nil, "Face ID detected in the photo (repeatable)")
	photoRegisterCmd.Flags().String("source", "", "Archive source")
	photoRegisterCmd.Flags().String("collection", "", "Collection within the source")
	photoRegisterCmd.Flags().String("source-url", "", "Link to the original")
	photoRegisterCmd.Flags().String("date-taken", "", "Date taken, free form")
	photoRegisterCmd.Flags().String("location", "", "Where the photo was taken")
	photoRegisterCmd.Flags().String("caption", "", "Caption")
	photoRegisterCmd.Flags().Int("width", 0, "Image width in pixels")
	photoRegisterCmd.Flags().Int("height", 0, "Image height in pixels")
	_ = photoRegisterCmd.MarkFlagRequired("face")

	photoImportCmd.Flags().Bool("json", false, "Output as JSON")
	photoShowCmd.Flags().Bool("json", false, "Output as JSON")
}

// ManifestPhoto is one photo in an import manifest.
type ManifestPhoto struct {
	PhotoID    string            `json:"photo_id,omitempty"`
	Path       string            `json:"path"`
	Source     string            `json:"source"`
	Collection string            `json:"collection,omitempty"`
	SourceURL  string            `json:"source_url,omitempty"`
	FaceIDs    []string          `json:"face_ids"`
	Width      int               `json:"width,omitempty"`
	Height     int               `json:"height,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// ImportOutput is the JSON output of photo import.
type ImportOutput struct {
	Photos  int           `json:"photos"`
	Faces   int           `json:"faces"`
	Skipped int           `json:"skipped"`
	Errors  []ImportError `json:"errors,omitempty"`
}

// ImportError describes a manifest entry that could not be registered.
type ImportError struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// registerManifestPhoto registers one manifest entry and returns its photo ID
// and the number of faces recorded.
func registerManifestPhoto(photos *photo.Registry, m ManifestPhoto) (string, int, error) {
	if len(m.FaceIDs) == 0 {
		return "", 0, errors.New("no face IDs")
	}
	photoID := m.PhotoID
	if photoID == "" {
		if m.Path == "" {
			return "", 0, errors.New("photo_id or path is required")
		}
		photoID = photo.DeriveID(m.Source, m.Path)
	}

	var errs []error
	faces := 0
	for _, faceID := range m.FaceIDs {
		if err := photos.RegisterFace(photoID, m.Path, faceID, m.Source, m.Collection); err != nil {
			errs = append(errs, err)
			continue
		}
		faces++
	}
	if faces == 0 {
		return photoID, 0, errors.Join(errs...)
	}

	if m.SourceURL != "" {
		photos.SetSourceURL(photoID, m.SourceURL)
	}
	if m.Width > 0 && m.Height > 0 {
		photos.SetDimensions(photoID, m.Width, m.Height)
	}
	if len(m.Metadata) > 0 {
		photos.SetMetadata(photoID, m.Metadata)
	}
	return photoID, faces, errors.Join(errs...)
}

func runPhotoRegister(cmd *cobra.Command, args []string) error {
	m := ManifestPhoto{
		PhotoID:    mustGetString(cmd, "id"),
		Path:       args[0],
		Source:     mustGetString(cmd, "source"),
		Collection: mustGetString(cmd, "collection"),
		SourceURL:  mustGetString(cmd, "source-url"),
		FaceIDs:    mustGetStringSlice(cmd, "face"),
		Width:      mustGetInt(cmd, "width"),
		Height:     mustGetInt(cmd, "height"),
		Metadata:   map[string]string{},
	}
	for flag, key := range map[string]string{
		"date-taken": photo.MetaDateTaken,
		"location":   photo.MetaLocation,
		"caption":    photo.MetaCaption,
	} {
		if v := mustGetString(cmd, flag); v != "" {
			m.Metadata[key] = v
		}
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	photoID, faces, err := registerManifestPhoto(s.photos, m)
	if err != nil {
		return fmt.Errorf("register photo: %w", err)
	}
	if err := s.photos.Save(cmd.Context()); err != nil {
		return err
	}
	fmt.Printf("Registered photo %s with %d face(s)\n", photoID, faces)
	return nil
}

func runPhotoImport(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}
	var manifest []ManifestPhoto
	if err := json.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("decode manifest: %w", err)
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	var bar *progressbar.ProgressBar
	if !jsonOutput {
		fmt.Printf("Importing %d photos from %s\n", len(manifest), args[0])
		bar = progressbar.NewOptions(len(manifest),
			progressbar.OptionSetDescription("Registering"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("photos"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionFullWidth(),
		)
	}

	out := ImportOutput{}
	seen := make(map[string]struct{})
	for _, m := range manifest {
		photoID, faces, err := registerManifestPhoto(s.photos, m)
		if err != nil {
			out.Errors = append(out.Errors, ImportError{Path: m.Path, Error: err.Error()})
		}
		if faces == 0 {
			out.Skipped++
		} else {
			out.Faces += faces
			if _, ok := seen[photoID]; !ok {
				seen[photoID] = struct{}{}
				out.Photos++
			}
		}
		if bar != nil {
			_ = bar.Add(1)
		}
	}

	if err := s.photos.Save(cmd.Context()); err != nil {
		return err
	}

	if jsonOutput {
		return outputJSON(out)
	}

	fmt.Printf("\nRegistered %d photos with %d faces (%d skipped)\n", out.Photos, out.Faces, out.Skipped)
	for _, e := range out.Errors {
		fmt.Printf("  %s: %s\n", e.Path, e.Error)
	}
	fmt.Printf("Photo index now holds %d photos and %d faces\n", s.photos.Len(), s.photos.FaceCount())
	return nil
}

func runPhotoSetSource(cmd *cobra.Command, args []string) error {
	var collection string
	if len(args) == 3 {
		collection = args[2]
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	if !s.photos.SetSource(args[0], args[1], collection) {
		return fmt.Errorf("photo %s not found", args[0])
	}
	if err := s.photos.Save(cmd.Context()); err != nil {
		return err
	}
	fmt.Printf("Photo %s source set to %q\n", args[0], args[1])
	return nil
}

// PhotoOutput is the JSON output of photo show.
type PhotoOutput struct {
	ID         string            `json:"photo_id"`
	Path       string            `json:"path,omitempty"`
	Source     string            `json:"source,omitempty"`
	Collection string            `json:"collection,omitempty"`
	SourceURL  string            `json:"source_url,omitempty"`
	Width      int               `json:"width,omitempty"`
	Height     int               `json:"height,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Faces      []PhotoFace       `json:"faces"`
}

// PhotoFace is a face in a photo together with the identity it belongs to.
type PhotoFace struct {
	FaceID     string `json:"face_id"`
	IdentityID string `json:"identity_id,omitempty"`
	Name       string `json:"name,omitempty"`
}

func runPhotoShow(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	p, ok := s.photos.Photo(args[0])
	if !ok {
		return fmt.Errorf("photo %s not found", args[0])
	}

	out := PhotoOutput{
		ID: p.ID, Path: p.Path, Source: p.Source, Collection: p.Collection, SourceURL: p.SourceURL,
		Width: p.Width, Height: p.Height, Metadata: map[string]string{},
	}
	for key, v := range map[string]string{
		photo.MetaDateTaken:    p.DateTaken,
		photo.MetaLocation:     p.Location,
		photo.MetaCaption:      p.Caption,
		photo.MetaDonor:        p.Donor,
		photo.MetaPhotographer: p.Photographer,
	} {
		if v != "" {
			out.Metadata[key] = v
		}
	}
	for _, faceID := range p.FaceIDs {
		face := PhotoFace{FaceID: faceID}
		if id, ok := s.identities.IdentityForFace(faceID); ok {
			face.IdentityID = id
			if ident, ok := s.identities.Identity(id); ok {
				face.Name = ident.Name
			}
		}
		out.Faces = append(out.Faces, face)
	}

	if mustGetBool(cmd, "json") {
		return outputJSON(out)
	}

	fmt.Printf("Photo: %s\n", out.ID)
	if out.Path != "" {
		fmt.Printf("  Path:       %s\n", out.Path)
	}
	if out.Source != "" {
		fmt.Printf("  Source:     %s\n", out.Source)
	}
	if out.Collection != "" {
		fmt.Printf("  Collection: %s\n", out.Collection)
	}
	if out.Width > 0 {
		fmt.Printf("  Size:       %dx%d\n", out.Width, out.Height)
	}
	for _, key := range []string{photo.MetaDateTaken, photo.MetaLocation, photo.MetaCaption, photo.MetaDonor, photo.MetaPhotographer} {
		if v, ok := out.Metadata[key]; ok {
			fmt.Printf("  %s: %s\n", key, v)
		}
	}
	fmt.Printf("\nFaces (%d):\n", len(out.Faces))
	for _, f := range out.Faces {
		switch {
		case f.Name != "":
			fmt.Printf("  %s\t%s (%s)\n", f.FaceID, f.Name, f.IdentityID)
		case f.IdentityID != "":
			fmt.Printf("  %s\t%s\n", f.FaceID, f.IdentityID)
		default:
			fmt.Printf("  %s\tunassigned\n", f.FaceID)
		}
	}
	return nil
}
