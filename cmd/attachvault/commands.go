package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/app"
	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/domain"
	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/janitor"
	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/remote/filesource"
)

var errNotConfirmed = errors.New("refusing to run without --yes")

type syncCmd struct {
	Cases []string `arg:"" name:"case" help:"Case identifiers to sync."`
}

func (c *syncCmd) Run(e *env) error {
	v, err := e.open()
	if err != nil {
		return err
	}
	defer v.Close()
	res := v.svc.SyncMany(e.ctx, c.Cases)
	fmt.Fprintf(e.out, "sync %s: %d succeeded, %d failed\n", res.RunID, res.Succeeded, res.Failed)
	if res.Failed > 0 {
		return fmt.Errorf("%d attachment(s) failed to sync", res.Failed)
	}
	return nil
}

type importCmd struct {
	ID   string `arg:"" help:"Attachment identifier."`
	File string `arg:"" type:"existingfile" help:"File to import."`
	Case string `help:"Case the attachment belongs to."`
	Name string `help:"Original name; defaults to the file name."`
	Mime string `help:"MIME type; sniffed from the content when empty."`
}

func (c *importCmd) Run(e *env) error {
	v, err := e.open()
	if err != nil {
		return err
	}
	defer v.Close()

	abs, err := filepath.Abs(c.File)
	if err != nil {
		return err
	}
	src, err := filesource.New(filepath.Dir(abs), e.cfg.MaxAttachmentBytes.Int64())
	if err != nil {
		return err
	}
	defer src.Close()

	name := c.Name
	if name == "" {
		name = filepath.Base(abs)
	}
	rec, err := v.svc.Download(e.ctx, app.DownloadRequest{
		ID:      c.ID,
		Locator: filepath.Base(abs),
		Meta:    domain.Metadata{OriginalName: name, MimeType: c.Mime, CaseID: c.Case},
		Fetcher: src,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "%s\t%s\t%s\t%d bytes\n", rec.ID, rec.OriginalName, rec.MimeType, rec.Size)
	return nil
}

type getCmd struct {
	ID  string `arg:"" help:"Attachment identifier."`
	Out string `short:"o" type:"path" help:"Write to this file instead of stdout."`
}

func (c *getCmd) Run(e *env) error {
	v, err := e.open()
	if err != nil {
		return err
	}
	defer v.Close()
	data, _, err := v.svc.GetOfflineAttachment(e.ctx, c.ID)
	if err != nil {
		return err
	}
	if c.Out == "" {
		_, err = e.out.Write(data)
		return err
	}
	return os.WriteFile(c.Out, data, 0o600)
}

type listCmd struct {
	Case string `help:"Only list attachments of this case."`
}

func (c *listCmd) Run(e *env) error {
	v, err := e.open()
	if err != nil {
		return err
	}
	defer v.Close()
	recs, err := v.svc.ListOffline(e.ctx, c.Case)
	if err != nil {
		return err
	}
	p := message.NewPrinter(language.English)
	tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTYPE\tSIZE\tCASE\tLAST ACCESSED")
	for _, r := range recs {
		p.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n", r.ID, r.OriginalName, r.MimeType, r.Size, r.CaseID, r.LastAccessed.Format(time.RFC3339))
	}
	return tw.Flush()
}

type rmCmd struct {
	ID string `arg:"" help:"Attachment identifier."`
}

func (c *rmCmd) Run(e *env) error {
	v, err := e.open()
	if err != nil {
		return err
	}
	defer v.Close()
	existed, err := v.svc.RemoveOffline(e.ctx, c.ID)
	if err != nil {
		return err
	}
	if !existed {
		return fmt.Errorf("%s: %w", c.ID, domain.ErrNotFound)
	}
	fmt.Fprintf(e.out, "removed %s\n", c.ID)
	return nil
}

type statsCmd struct{}

func (statsCmd) Run(e *env) error {
	v, err := e.open()
	if err != nil {
		return err
	}
	defer v.Close()
	st, err := v.svc.GetStats(e.ctx)
	if err != nil {
		return err
	}
	last := "never"
	if !st.LastCleanup.IsZero() {
		last = st.LastCleanup.Format(time.RFC3339)
	}
	p := message.NewPrinter(language.English)
	p.Fprintf(e.out, "attachments:  %d\n", st.TotalAttachments)
	p.Fprintf(e.out, "plaintext:    %d bytes\n", st.TotalSize)
	p.Fprintf(e.out, "encrypted:    %d bytes\n", st.EncryptedSize)
	p.Fprintf(e.out, "last cleanup: %s\n", last)
	return nil
}

type cleanupCmd struct {
	MaxAge time.Duration `help:"Override the configured max age."`
}

func (c *cleanupCmd) Run(e *env) error {
	v, err := e.open()
	if err != nil {
		return err
	}
	defer v.Close()
	maxAge := e.cfg.MaxAge
	if c.MaxAge > 0 {
		maxAge = c.MaxAge
	}
	j := janitor.New(v.store, v.recorder(), janitor.Config{MaxAge: maxAge, Logger: e.logger})
	n := j.RunOnce(e.ctx)
	if j.MetricsSnapshot().Failures > 0 {
		return errors.New("cleanup finished with errors; see log")
	}
	fmt.Fprintf(e.out, "removed %d expired attachment(s)\n", n)
	return nil
}

type wipeCmd struct {
	Yes bool `help:"Confirm deletion of every offline attachment."`
}

func (c *wipeCmd) Run(e *env) error {
	if !c.Yes {
		return errNotConfirmed
	}
	v, err := e.open()
	if err != nil {
		return err
	}
	defer v.Close()
	ok, err := v.svc.ClearAll(e.ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("some attachments could not be deleted; see log")
	}
	fmt.Fprintln(e.out, "all offline attachments deleted")
	return nil
}

type resetKeyCmd struct {
	Yes bool `help:"Confirm deletion of all attachments and the device key."`
}

func (c *resetKeyCmd) Run(e *env) error {
	if !c.Yes {
		return errNotConfirmed
	}
	v, err := e.open()
	if err != nil {
		return err
	}
	defer v.Close()
	if err := v.svc.ResetSecurity(e.ctx); err != nil {
		return err
	}
	if err := v.svc.Init(e.ctx); err != nil {
		return err
	}
	fmt.Fprintln(e.out, "device key replaced; offline data cleared")
	return nil
}
