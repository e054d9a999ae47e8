package main

import (
	"fmt"
	"image"

	"github.com/IvanBrykalov/tiercache/disk"
	"github.com/IvanBrykalov/tiercache/loader"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func (a *app) fetchCmd() *cobra.Command {
	var width, height int
	cmd := &cobra.Command{
		Use:   "fetch URI...",
		Short: "Load images through both cache tiers",
		Example: "  tiercache fetch https://example.com/a.png --width 128\n" +
			"  tiercache fetch ./local.jpg file:///tmp/b.webp",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loader.Open(a.cfg, loader.Deps[image.Image]{
				Fetcher:    loader.NewHTTPFetcher(a.cfg.Fetch.Timeout, a.cfg.Fetch.UserAgent),
				Decoder:    loader.ImageDecoder,
				Sizer:      loader.ImageSizer,
				Logger:     a.log,
				Registerer: a.reg,
			})
			if err != nil {
				return err
			}
			defer e.Shutdown()

			keys := make([]loader.Key, len(args))
			for i, uri := range args {
				keys[i] = loader.Key{URI: uri, Width: width, Height: height}
			}
			imgs, err := e.LoadAll(cmd.Context(), keys)
			if err != nil {
				return err
			}
			for i, img := range imgs {
				b := img.Bounds()
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%dx%d\t%s\n",
					keys[i].URI, b.Dx(), b.Dy(), e.Disk().Path(keys[i].URI))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&width, "width", 0, "target width (0 = keep aspect or natural)")
	cmd.Flags().IntVar(&height, "height", 0, "target height (0 = keep aspect or natural)")
	return cmd
}

func (a *app) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show disk cache usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.openDisk()
			if err != nil {
				return err
			}
			defer c.Close()

			st := c.Stats()
			limit, countFiles := a.cfg.DiskLimit()
			limitStr := "unlimited"
			switch {
			case limit > 0 && countFiles:
				limitStr = fmt.Sprintf("%d files", limit)
			case limit > 0:
				limitStr = humanize.IBytes(uint64(limit))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "dir:   %s\nfiles: %d\nsize:  %s\nlimit: %s\n",
				c.Dir(), st.Entries, humanize.IBytes(uint64(max(st.Size, 0))), limitStr)
			return nil
		},
	}
}

func (a *app) clearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every cached source file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.openDisk()
			if err != nil {
				return err
			}
			defer c.Close()

			n := c.Len()
			if err := c.Clear(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d files from %s\n", n, c.Dir())
			return nil
		},
	}
}

// openDisk opens the source directory with the configured limits and waits
// for its scan, without evicting anything.
func (a *app) openDisk() (*disk.Cache, error) {
	_, countFiles := a.cfg.DiskLimit()
	sizer := disk.Bytes
	if countFiles {
		sizer = disk.Count
	}
	c, err := disk.New(disk.Options{Dir: loader.SourceDir(a.cfg.CacheDir), Sizer: sizer, Logger: a.log})
	if err != nil {
		return nil, err
	}
	<-c.Ready()
	return c, nil
}
