package shell

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/atinyakov/buildsite/internal/client/api"
	"github.com/atinyakov/buildsite/internal/gallery"
	"github.com/atinyakov/buildsite/internal/models"
	"go.uber.org/zap"
)

var commands map[string]command

func init() {
	commands = map[string]command{
		"help":   {usage: "help", help: "list commands", run: runHelp},
		"login":  {usage: "login [email]", help: "log in to the back-office", run: runLogin},
		"logout": {usage: "logout", help: "end the session", run: runLogout},
		"whoami": {usage: "whoami", help: "show the logged-in user", run: runWhoami},

		"projects list": {usage: "projects list [search=] [status=] [active=1|0] [page=] [per_page=]",
			help: "list projects", route: "/admin/projects", run: runProjectsList},
		"projects get": {usage: "projects get ID", help: "show a project",
			route: "/admin/projects/{id}", run: runProjectsGet},
		"projects create": {usage: "projects create name=... [field=value...]", help: "create a project",
			route: "/admin/projects/new", run: runProjectsCreate},
		"projects update": {usage: "projects update ID field=value...", help: "change a project",
			route: "/admin/projects/{id}/edit", run: runProjectsUpdate},
		"projects delete": {usage: "projects delete ID", help: "delete a project",
			route: "/admin/projects/{id}/delete", run: runProjectsDelete},
		"projects toggle": {usage: "projects toggle ID", help: "publish or hide a project",
			route: "/admin/projects/{id}/toggle", run: runProjectsToggle},

		"images list": {usage: "images list PROJECT", help: "list a project's images",
			route: "/admin/projects/{id}/images", run: runImagesList},
		"images select": {usage: "images select PROJECT FILE...", help: "queue image files for upload",
			route: "/admin/projects/{id}/images", run: runImagesSelect},
		"images pending": {usage: "images pending PROJECT", help: "list files queued for upload",
			route: "/admin/projects/{id}/images", run: runImagesPending},
		"images drop": {usage: "images drop PROJECT FILE-ID", help: "remove a queued file",
			route: "/admin/projects/{id}/images", run: runImagesDrop},
		"images upload": {usage: "images upload PROJECT [FILE...]", help: "upload queued and given image files",
			route: "/admin/projects/{id}/images", run: runImagesUpload},
		"images delete": {usage: "images delete PROJECT IMAGE", help: "delete an image",
			route: "/admin/projects/{id}/images", run: runImagesDelete},
		"images main": {usage: "images main PROJECT IMAGE", help: "make an image the main one",
			route: "/admin/projects/{id}/images", run: runImagesMain},
		"images reorder": {usage: "images reorder PROJECT IMAGE...", help: "set the display order",
			route: "/admin/projects/{id}/images", run: runImagesReorder},
		"images url": {usage: "images url PROJECT IMAGE [thumb]", help: "print an image's display URL",
			route: "/admin/projects/{id}/images", run: runImagesURL},
	}
}

func usage(cmd string) error {
	return fmt.Errorf("%w: %s", ErrUsage, commands[cmd].usage)
}

func runHelp(_ context.Context, s *Shell, _ []string) error {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	tw := tabwriter.NewWriter(s.Out, 0, 4, 2, ' ', 0)
	for _, name := range names {
		fmt.Fprintf(tw, "  %s\t%s\n", commands[name].usage, commands[name].help)
	}
	fmt.Fprintf(tw, "  exit\tleave the shell\n")
	return tw.Flush()
}

func runLogin(ctx context.Context, s *Shell, args []string) error {
	email := ""
	if len(args) > 0 {
		email = args[0]
	}
	if s.Session.IsAuthenticated() {
		fmt.Fprintf(s.Out, "Already logged in as %s.\n", s.Session.User().Email)
		return nil
	}
	return s.login(ctx, email)
}

func runLogout(ctx context.Context, s *Shell, _ []string) error {
	s.Close()
	return s.Session.Logout(ctx)
}

func runWhoami(ctx context.Context, s *Shell, _ []string) error {
	if s.Session.IsAuthenticated() {
		if err := s.Session.Refresh(ctx); err != nil {
			return err
		}
	}
	u := s.Session.User()
	if u == nil {
		fmt.Fprintln(s.Out, "Not logged in.")
		return nil
	}
	fmt.Fprintf(s.Out, "%s <%s> role=%s\n", u.Name, u.Email, u.Role)
	return nil
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

func parseIDs(raw []string) ([]int64, error) {
	ids := make([]int64, 0, len(raw))
	for _, part := range raw {
		for _, r := range strings.Split(part, ",") {
			if r = strings.TrimSpace(r); r == "" {
				continue
			}
			id, err := parseID(r)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// keyValues parses field=value arguments.
func keyValues(args []string) (map[string]string, error) {
	kv := make(map[string]string, len(args))
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("expected field=value, got %q", a)
		}
		kv[k] = v
	}
	return kv, nil
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(raw) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off", "":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", raw)
}

func applyFields(in *models.ProjectInput, kv map[string]string) error {
	for k, v := range kv {
		var err error
		switch k {
		case "name":
			in.Name = v
		case "description":
			in.Description = v
		case "client":
			in.Client = v
		case "location":
			in.Location = v
		case "category":
			in.Category = v
		case "status":
			in.Status = models.ProjectStatus(v)
		case "budget":
			if v == "" {
				in.Budget = 0
				break
			}
			in.Budget, err = strconv.ParseFloat(v, 64)
			if err != nil {
				err = fmt.Errorf("invalid budget %q", v)
			}
		case "start_date":
			in.StartDate = v
		case "end_date":
			in.EndDate = v
		case "is_active", "active":
			in.IsActive, err = parseBool(v)
		case "is_featured", "featured":
			in.IsFeatured, err = parseBool(v)
		default:
			err = fmt.Errorf("unknown field %q", k)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func validate(in models.ProjectInput) error {
	if fields := in.Validate(); len(fields) > 0 {
		return &api.ValidationError{Message: "The given data was invalid.", Fields: fields}
	}
	return nil
}

func runProjectsList(ctx context.Context, s *Shell, args []string) error {
	kv, err := keyValues(args)
	if err != nil {
		return err
	}
	var f models.ProjectFilter
	for k, v := range kv {
		switch k {
		case "search":
			f.Search = v
		case "status":
			f.Status = models.ProjectStatus(v)
		case "active":
			if v == "" {
				continue
			}
			b, err := parseBool(v)
			if err != nil {
				return err
			}
			f.Active = &b
		case "page", "per_page":
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid %s %q", k, v)
			}
			if k == "page" {
				f.Page = n
			} else {
				f.PerPage = n
			}
		default:
			return usage("projects list")
		}
	}

	page, err := s.API.ListProjects(ctx, f)
	if err != nil {
		return err
	}
	if len(page.Projects) == 0 {
		fmt.Fprintln(s.Out, "No projects found.")
		return nil
	}
	tw := tabwriter.NewWriter(s.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tACTIVE\tFEATURED\tIMAGES")
	for _, p := range page.Projects {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\n",
			p.ID, p.Name, p.Status.Label(), yesNo(p.IsActive), yesNo(p.IsFeatured), len(p.Images))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	pg := page.Pagination
	fmt.Fprintf(s.Out, "Page %d of %d, %d project(s)\n", pg.CurrentPage, pg.LastPage, pg.Total)
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func runProjectsGet(ctx context.Context, s *Shell, args []string) error {
	if len(args) != 1 {
		return usage("projects get")
	}
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	p, err := s.API.GetProject(ctx, id)
	if err != nil {
		return err
	}
	printProject(s, p)
	return nil
}

func printProject(s *Shell, p *models.Project) {
	tw := tabwriter.NewWriter(s.Out, 0, 4, 2, ' ', 0)
	row := func(k, v string) {
		if v != "" {
			fmt.Fprintf(tw, "%s:\t%s\n", k, v)
		}
	}
	row("ID", strconv.FormatInt(p.ID, 10))
	row("Name", p.Name)
	row("Slug", p.Slug)
	row("Client", p.Client)
	row("Location", p.Location)
	row("Category", p.Category)
	row("Status", p.Status.Label())
	if p.Budget > 0 {
		row("Budget", strconv.FormatFloat(p.Budget, 'f', 2, 64))
	}
	row("Start", p.StartDate)
	row("End", p.EndDate)
	row("Active", yesNo(p.IsActive))
	row("Featured", yesNo(p.IsFeatured))
	row("Images", strconv.Itoa(len(p.Images)))
	if p.MainImage != nil {
		row("Main image", gallery.ResolveDisplayURL(s.StorageOrigin, *p.MainImage, gallery.Full))
	}
	row("Description", p.Description)
	_ = tw.Flush()
}

func runProjectsCreate(ctx context.Context, s *Shell, args []string) error {
	if len(args) == 0 {
		return usage("projects create")
	}
	kv, err := keyValues(args)
	if err != nil {
		return err
	}
	in := models.ProjectInput{Status: models.StatusPlanned, IsActive: true}
	if err := applyFields(&in, kv); err != nil {
		return err
	}
	if err := validate(in); err != nil {
		return err
	}
	p, err := s.API.CreateProject(ctx, in)
	if err != nil {
		return err
	}
	s.log().Info("project created", zap.Int64("project_id", p.ID))
	fmt.Fprintf(s.Out, "Created project %d.\n", p.ID)
	return nil
}

func runProjectsUpdate(ctx context.Context, s *Shell, args []string) error {
	if len(args) < 2 {
		return usage("projects update")
	}
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	kv, err := keyValues(args[1:])
	if err != nil {
		return err
	}
	current, err := s.API.GetProject(ctx, id)
	if err != nil {
		return err
	}
	in := current.Input()
	if err := applyFields(&in, kv); err != nil {
		return err
	}
	if err := validate(in); err != nil {
		return err
	}
	if _, err := s.API.UpdateProject(ctx, id, in); err != nil {
		return err
	}
	fmt.Fprintf(s.Out, "Updated project %d.\n", id)
	return nil
}

func runProjectsDelete(ctx context.Context, s *Shell, args []string) error {
	if len(args) != 1 {
		return usage("projects delete")
	}
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	if !s.confirm(ctx, fmt.Sprintf("Delete project %d and all its images?", id)) {
		fmt.Fprintln(s.Out, "Cancelled.")
		return nil
	}
	if err := s.API.DeleteProject(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(s.Out, "Deleted project %d.\n", id)
	return nil
}

func runProjectsToggle(ctx context.Context, s *Shell, args []string) error {
	if len(args) != 1 {
		return usage("projects toggle")
	}
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	active, err := s.API.ToggleProjectActive(ctx, id)
	if err != nil {
		return err
	}
	state := "hidden"
	if active {
		state = "published"
	}
	fmt.Fprintf(s.Out, "Project %d is now %s.\n", id, state)
	return nil
}

// openGallery loads the gallery of the project named by args[0]. The gallery
// outlives the command.
func (s *Shell) openGallery(ctx context.Context, args []string) (*gallery.Manager, error) {
	id, err := parseID(args[0])
	if err != nil {
		return nil, err
	}
	g := s.gallery(id)
	if err := g.Load(ctx); err != nil {
		return nil, err
	}
	return g, nil
}

func runImagesList(ctx context.Context, s *Shell, args []string) error {
	if len(args) != 1 {
		return usage("images list")
	}
	g, err := s.openGallery(ctx, args)
	if err != nil {
		return err
	}
	printImages(s, g)
	return nil
}

func printImages(s *Shell, g *gallery.Manager) {
	images := g.Images()
	if len(images) == 0 {
		fmt.Fprintln(s.Out, "No images.")
		return
	}
	tw := tabwriter.NewWriter(s.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tORDER\tMAIN\tNAME\tSIZE\tURL")
	for _, img := range images {
		main := ""
		if img.IsMain {
			main = "*"
		}
		u := g.ResolveDisplayURL(img, gallery.Thumbnail)
		if u == gallery.Unavailable {
			u = "-"
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%s\n",
			img.ID, img.DisplayOrder, main, img.OriginalName, humanSize(img.Size), u)
	}
	_ = tw.Flush()
}

func humanSize(n int64) string {
	switch {
	case n <= 0:
		return "-"
	case n < 1<<10:
		return fmt.Sprintf("%d B", n)
	case n < 1<<20:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
}

// selectPaths queues the files at paths that are not pending already.
func selectPaths(s *Shell, g *gallery.Manager, paths []string) {
	type key struct {
		name string
		size int64
	}
	queued := make(map[key]bool)
	for _, p := range g.Pending() {
		queued[key{p.File.Name, p.File.Size}] = true
	}

	files := make([]gallery.File, 0, len(paths))
	for _, path := range paths {
		f, err := gallery.FromPath(path)
		if err != nil {
			fmt.Fprintf(s.Out, "skipped %s: %v\n", path, err)
			continue
		}
		if queued[key{f.Name, f.Size}] {
			continue
		}
		files = append(files, f)
	}
	_, rejected := g.SelectFiles(files...)
	for _, r := range rejected {
		fmt.Fprintf(s.Out, "skipped %s: %s\n", r.Name, r.Reason)
	}
}

func printPending(s *Shell, g *gallery.Manager) {
	pending := g.Pending()
	if len(pending) == 0 {
		fmt.Fprintln(s.Out, "Nothing queued.")
		return
	}
	tw := tabwriter.NewWriter(s.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE-ID\tNAME\tSIZE\tTYPE")
	for _, p := range pending {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.LocalID, p.File.Name, humanSize(p.File.Size), p.ContentType)
	}
	_ = tw.Flush()
}

func runImagesSelect(_ context.Context, s *Shell, args []string) error {
	if len(args) < 2 {
		return usage("images select")
	}
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	g := s.gallery(id)
	selectPaths(s, g, args[1:])
	printPending(s, g)
	return nil
}

func runImagesPending(_ context.Context, s *Shell, args []string) error {
	if len(args) != 1 {
		return usage("images pending")
	}
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	printPending(s, s.gallery(id))
	return nil
}

func runImagesDrop(_ context.Context, s *Shell, args []string) error {
	if len(args) != 2 {
		return usage("images drop")
	}
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	if !s.gallery(id).RemovePending(args[1]) {
		return fmt.Errorf("no queued file %q", args[1])
	}
	fmt.Fprintln(s.Out, "Removed.")
	return nil
}

// runImagesUpload sends the queued files together with any given ones. A
// failed upload leaves the batch queued, so running it again retries.
func runImagesUpload(ctx context.Context, s *Shell, args []string) error {
	if len(args) < 1 {
		return usage("images upload")
	}
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	g := s.gallery(id)
	selectPaths(s, g, args[1:])
	if err := g.Upload(ctx); err != nil {
		if len(g.Pending()) > 0 {
			fmt.Fprintln(s.Out, "Files stay queued, run 'images upload' again to retry.")
		}
		return err
	}
	printImages(s, g)
	return nil
}

func imageArgs(cmd string, args []string) (int64, error) {
	if len(args) != 2 {
		return 0, usage(cmd)
	}
	return parseID(args[1])
}

func runImagesDelete(ctx context.Context, s *Shell, args []string) error {
	imageID, err := imageArgs("images delete", args)
	if err != nil {
		return err
	}
	g, err := s.openGallery(ctx, args)
	if err != nil {
		return err
	}
	err = g.Delete(ctx, imageID)
	if errors.Is(err, gallery.ErrNotConfirmed) {
		fmt.Fprintln(s.Out, "Cancelled.")
		return nil
	}
	return err
}

func runImagesMain(ctx context.Context, s *Shell, args []string) error {
	imageID, err := imageArgs("images main", args)
	if err != nil {
		return err
	}
	g, err := s.openGallery(ctx, args)
	if err != nil {
		return err
	}
	return g.SetMain(ctx, imageID)
}

func runImagesReorder(ctx context.Context, s *Shell, args []string) error {
	if len(args) < 2 {
		return usage("images reorder")
	}
	ids, err := parseIDs(args[1:])
	if err != nil {
		return err
	}
	g, err := s.openGallery(ctx, args)
	if err != nil {
		return err
	}
	if err := g.Reorder(ctx, ids); err != nil {
		return err
	}
	printImages(s, g)
	return nil
}

func runImagesURL(ctx context.Context, s *Shell, args []string) error {
	v := gallery.Full
	if len(args) == 3 && args[2] == "thumb" {
		v = gallery.Thumbnail
		args = args[:2]
	}
	imageID, err := imageArgs("images url", args)
	if err != nil {
		return err
	}
	g, err := s.openGallery(ctx, args)
	if err != nil {
		return err
	}
	for _, img := range g.Images() {
		if img.ID == imageID {
			u := g.ResolveDisplayURL(img, v)
			if u == gallery.Unavailable {
				return errors.New("no URL is available for this image")
			}
			fmt.Fprintln(s.Out, u)
			return nil
		}
	}
	return gallery.ErrUnknownImage
}
