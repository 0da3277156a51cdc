package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/harrylevesque/erpportal/internal/apperr"
	"github.com/harrylevesque/erpportal/internal/erp"
	"github.com/harrylevesque/erpportal/internal/pdfmeta"
)

func fetchCmd() *cobra.Command {
	var (
		token       string
		username    string
		password    string
		outDir      string
		concurrency int
	)
	cmd := &cobra.Command{
		Use:   "fetch kind:number [kind:number...]",
		Short: "Download documents from the ERP",
		Long: `Download documents from the ERP with the portal's fetch rules.

Examples:
  portal fetch --token $TOKEN boleto:123 invoice:4567
  portal fetch --user ana --password secret --out ./docs order:88`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd.Context(), args, token, username, password, outDir, concurrency)
		},
	}
	cmd.Flags().StringVar(&token, "token", os.Getenv("PORTAL_TOKEN"), "ERP bearer token")
	cmd.Flags().StringVar(&username, "user", "", "log in with this user instead of --token")
	cmd.Flags().StringVar(&password, "password", "", "password for --user")
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "output directory")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "n", 4, "parallel downloads")
	return cmd
}

func parseTargets(catalog erp.Catalog, args []string) ([]erp.Descriptor, error) {
	descs := make([]erp.Descriptor, 0, len(args))
	for _, arg := range args {
		kind, number, ok := strings.Cut(arg, ":")
		if !ok {
			return nil, fmt.Errorf("%q: want kind:number", arg)
		}
		d, err := catalog.Describe(erp.Kind(strings.ToLower(kind)), number, nil)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", arg, err)
		}
		descs = append(descs, d)
	}
	return descs, nil
}

func runFetch(ctx context.Context, args []string, token, username, password, outDir string, concurrency int) error {
	cfg, log, closer, err := setup()
	if err != nil {
		return err
	}
	defer closer.Close()
	if ctx == nil {
		ctx = context.Background()
	}

	descs, err := parseTargets(erp.NewCatalog(cfg.ERP.Endpoints), args)
	if err != nil {
		return err
	}
	client := erp.NewClient(erp.Config{
		BaseURL:          cfg.ERP.BaseURL,
		FallbackBaseURL:  cfg.ERP.FallbackBaseURL,
		Timeout:          cfg.ERP.Timeout,
		LoginPath:        cfg.ERP.LoginPath,
		MaxDocumentBytes: cfg.ERP.MaxDocumentBytes,
	}, erp.WithLogger(log))

	if username != "" {
		res, err := client.Login(ctx, username, password)
		if err != nil {
			return fmt.Errorf("login: %w", err)
		}
		token = res.Token
	}
	if token == "" {
		return apperr.New(apperr.KindUnauthenticated, "set --token, PORTAL_TOKEN or --user")
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}

	// Each document is independent; one failure is reported, not fatal.
	var (
		mu       sync.Mutex
		failures []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(concurrency, 1))
	for _, d := range descs {
		d := d
		g.Go(func() error {
			doc, err := client.FetchDocument(gctx, d, token)
			if err != nil {
				mu.Lock()
				failures = append(failures, fmt.Sprintf("%s: %v", d.DocumentID(), err))
				mu.Unlock()
				if apperr.KindOf(err).RequiresLogin() {
					return err
				}
				return nil
			}
			path := filepath.Join(outDir, d.FilenameHint)
			if err := os.WriteFile(path, doc.Bytes, 0o644); err != nil {
				return err
			}
			pages := "?"
			if info, err := pdfmeta.Inspect(doc.Bytes); err == nil {
				pages = fmt.Sprint(info.PageCount)
			}
			fmt.Printf("%s\t%d bytes\t%s pages\t%s\n", d.DocumentID(), len(doc.Bytes), pages, path)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if len(failures) > 0 {
		for _, f := range failures {
			fmt.Fprintln(os.Stderr, f)
		}
		return fmt.Errorf("%d of %d documents failed", len(failures), len(descs))
	}
	return nil
}
