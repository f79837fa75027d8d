package steps

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/joho/godotenv"
	"github.com/poltergeist/wisp/pkg/logger"
	"github.com/poltergeist/wisp/pkg/types"
	"github.com/poltergeist/wisp/pkg/utils"
)

// TokenEnv holds the token used for HTTP pushes
const TokenEnv = "WISP_GIT_TOKEN"

// PublishOption customises the publish step
type PublishOption func(*Publish)

// WithAuth overrides the auth method derived from the environment
func WithAuth(auth transport.AuthMethod) PublishOption {
	return func(p *Publish) { p.auth = auth }
}

// WithClock sets the time source used for commit messages and signatures
func WithClock(now func() time.Time) PublishOption {
	return func(p *Publish) { p.now = now }
}

// Publish pushes the build tree to a hosting branch of a git remote. The
// branch content is replaced wholesale on every publish.
type Publish struct {
	env  Env
	auth transport.AuthMethod
	now  func() time.Time
}

// NewPublish creates the publish step
func NewPublish(env Env, opts ...PublishOption) *Publish {
	p := &Publish{env: env, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name implements Step
func (p *Publish) Name() types.StepName { return types.StepPublish }

// Enabled implements Step
func (p *Publish) Enabled() bool { return true }

// Run implements Step
func (p *Publish) Run(ctx context.Context) (*Report, error) {
	log := p.env.log(p.Name())
	cfg := p.env.Config.Publish

	buildRoot := p.env.Abs(p.env.Config.Paths.BuildRoot)
	if !utils.DirectoryExists(buildRoot) {
		return &Report{}, fmt.Errorf("build root %s does not exist, run build first", buildRoot)
	}

	remote, err := p.remoteURL()
	if err != nil {
		return &Report{}, err
	}

	auth, err := p.authMethod()
	if err != nil {
		return &Report{}, err
	}

	cache := p.env.Abs(cfg.CacheDir)
	log.Info(fmt.Sprintf("publishing %s to %s (%s)", p.env.Config.Paths.BuildRoot, redact(remote), cfg.Branch))

	repo, err := p.checkout(ctx, log, cache, remote, cfg.Branch, auth)
	if err != nil {
		return &Report{}, err
	}

	report, err := syncTree(buildRoot, cache)
	if err != nil {
		return report, err
	}

	wt, err := repo.Worktree()
	if err != nil {
		return report, err
	}
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return report, fmt.Errorf("stage files: %w", err)
	}

	status, err := wt.Status()
	if err != nil {
		return report, fmt.Errorf("status: %w", err)
	}
	if status.IsClean() {
		log.Info("nothing to publish")
		return report, ErrNothingToPublish
	}

	when := p.now()
	message := strings.ReplaceAll(cfg.Message, "{{timestamp}}", when.UTC().Format(time.RFC3339))
	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{Name: cfg.AuthorName, Email: cfg.AuthorEmail, When: when},
	})
	if err != nil {
		return report, fmt.Errorf("commit: %w", err)
	}

	ref := plumbing.NewBranchReferenceName(cfg.Branch)
	err = repo.PushContext(ctx, &git.PushOptions{
		RemoteName: git.DefaultRemoteName,
		RefSpecs:   []gitconfig.RefSpec{gitconfig.RefSpec(ref + ":" + ref)},
		Auth:       auth,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return report, fmt.Errorf("push %s: %w", cfg.Branch, err)
	}

	log.Success(fmt.Sprintf("published %s", hash.String()[:8]))
	return report, nil
}

// checkout clones the branch into dir, or initialises a fresh repository on
// that branch when the remote is empty or lacks it.
func (p *Publish) checkout(ctx context.Context, log logger.Logger, dir, remote, branch string, auth transport.AuthMethod) (*git.Repository, error) {
	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("failed to remove existing directory: %w", err)
	}

	repo, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL:           remote,
		ReferenceName: plumbing.NewBranchReferenceName(branch),
		SingleBranch:  true,
		Auth:          auth,
	})
	if err == nil {
		return repo, nil
	}
	if !isMissingBranch(err) {
		return nil, fmt.Errorf("failed to clone %s: %w", redact(remote), err)
	}

	log.Info(fmt.Sprintf("branch %s not found on remote, starting it", branch))
	if err := os.RemoveAll(dir); err != nil {
		return nil, err
	}
	repo, err = git.PlainInit(dir, false)
	if err != nil {
		return nil, fmt.Errorf("init publish repository: %w", err)
	}
	head := plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(branch))
	if err := repo.Storer.SetReference(head); err != nil {
		return nil, err
	}
	if _, err := repo.CreateRemote(&gitconfig.RemoteConfig{
		Name: git.DefaultRemoteName,
		URLs: []string{remote},
	}); err != nil {
		return nil, err
	}
	return repo, nil
}

func isMissingBranch(err error) bool {
	if errors.Is(err, transport.ErrEmptyRemoteRepository) ||
		errors.Is(err, plumbing.ErrReferenceNotFound) ||
		errors.Is(err, git.NoMatchingRefSpecError{}) {
		return true
	}
	l := strings.ToLower(err.Error())
	return strings.Contains(l, "couldn't find remote ref") ||
		strings.Contains(l, "remote repository is empty") ||
		strings.Contains(l, "reference not found")
}

// syncTree makes dir mirror buildRoot, leaving dir/.git alone
func syncTree(buildRoot, dir string) (*Report, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return &Report{}, err
	}
	report := &Report{}
	for _, e := range entries {
		if e.Name() == git.GitDirName {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return report, err
		}
		report.Removed++
	}

	err = utils.CopyDirectory(buildRoot, dir, func(rel string, d fs.DirEntry) bool {
		return rel == git.GitDirName
	})
	if err != nil {
		return report, fmt.Errorf("copy build tree: %w", err)
	}

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && d.Name() == git.GitDirName {
			return filepath.SkipDir
		}
		if !d.IsDir() {
			report.Written = append(report.Written, path)
		}
		return nil
	})
	return report, err
}

// remoteURL returns the configured remote or the project's origin URL
func (p *Publish) remoteURL() (string, error) {
	if remote := p.env.Config.Publish.Remote; remote != "" {
		return remote, nil
	}

	repo, err := git.PlainOpenWithOptions(p.env.Root, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return "", fmt.Errorf("no publish remote configured and project is not a git repository: %w", err)
	}
	origin, err := repo.Remote(git.DefaultRemoteName)
	if err != nil {
		return "", fmt.Errorf("no publish remote configured and no origin remote: %w", err)
	}
	urls := origin.Config().URLs
	if len(urls) == 0 {
		return "", fmt.Errorf("origin remote has no URL")
	}
	return urls[0], nil
}

// authMethod uses WISP_GIT_TOKEN from the environment or the project .env
func (p *Publish) authMethod() (transport.AuthMethod, error) {
	if p.auth != nil {
		return p.auth, nil
	}

	envFile := filepath.Join(p.env.Root, ".env")
	if utils.FileExists(envFile) {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	token := os.Getenv(TokenEnv)
	if token == "" {
		return nil, nil
	}
	return &http.BasicAuth{Username: "x-access-token", Password: token}, nil
}

// redact strips credentials embedded in a remote URL
func redact(remote string) string {
	scheme, rest, ok := strings.Cut(remote, "://")
	if !ok {
		return remote
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		if slash := strings.Index(rest, "/"); slash < 0 || at < slash {
			rest = "***@" + rest[at+1:]
		}
	}
	return scheme + "://" + rest
}
