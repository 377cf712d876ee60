// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// kar builds, lists and extracts kar archives.
//
//	kar build -o ships.kar ./ships
//	kar list ships.kar
//	kar extract -o ./out ships.kar hull.material
package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/exp/mmap"

	"github.com/devblok/koruasset/utility/kar"
)

const usage = `Usage:
  kar build [-o file] [--author name] [--version n] [--force] dir
  kar list file
  kar extract [-o dir] file [name...]
`

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if err == pflag.ErrHelp {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return errors.New("missing command")
	}
	switch args[0] {
	case "build":
		return build(args[1:], stdout)
	case "list":
		return list(args[1:], stdout)
	case "extract":
		return extract(args[1:], stdout)
	case "help", "-h", "--help":
		fmt.Fprint(os.Stderr, usage)
		return nil
	}
	return fmt.Errorf("unknown command '%s'", args[0])
}

func currentUserName() string {
	u, err := user.Current()
	if err != nil {
		return "unknown"
	}
	if u.Name != "" {
		return u.Name
	}
	return u.Username
}

func build(args []string, stdout io.Writer) error {
	var (
		output, author string
		version        int64
		force          bool
	)
	flags := pflag.NewFlagSet("kar build", pflag.ContinueOnError)
	flags.StringVarP(&output, "output", "o", "", "archive to write, defaults to <dir>.kar")
	flags.StringVar(&author, "author", currentUserName(), "author recorded in the header")
	flags.Int64Var(&version, "version", 1, "archive version number")
	flags.BoolVar(&force, "force", false, "overwrite an existing archive")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return errors.New("build takes one directory")
	}
	dir := flags.Arg(0)
	if output == "" {
		output = filepath.Clean(dir) + ".kar"
	}
	if _, err := os.Stat(output); err == nil && !force {
		return fmt.Errorf("%s exists, will not overwrite", output)
	}

	builder, err := kar.NewBuilder(kar.Header{
		Author:      author,
		DateCreated: time.Now().Unix(),
		Version:     version,
	})
	if err != nil {
		return err
	}
	defer builder.Close()

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		return builder.Add(filepath.ToSlash(rel), f)
	})
	if err != nil {
		return err
	}

	out, err := os.Create(output)
	if err != nil {
		return err
	}
	n, err := builder.WriteTo(out)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(output)
		return err
	}
	fmt.Fprintf(stdout, "%s: %d files, %d bytes\n", output, builder.Len(), n)
	return nil
}

func openArchive(file string) (*kar.Archive, io.Closer, error) {
	r, err := mmap.Open(file)
	if err != nil {
		return nil, nil, err
	}
	a, err := kar.Open(r)
	if err != nil {
		r.Close()
		return nil, nil, fmt.Errorf("%s: %w", file, err)
	}
	return a, r, nil
}

func list(args []string, stdout io.Writer) error {
	if len(args) != 1 {
		return errors.New("list takes one archive")
	}
	a, closer, err := openArchive(args[0])
	if err != nil {
		return err
	}
	defer closer.Close()

	h := a.Header()
	fmt.Fprintf(stdout, "author %q, created %s, version %d\n", h.Author, time.Unix(h.DateCreated, 0).UTC().Format(time.RFC3339), h.Version)
	for _, e := range h.Index {
		fmt.Fprintf(stdout, "%10d %10d  %s\n", e.Size, e.CompressedSize, e.Name)
	}
	return nil
}

func extract(args []string, stdout io.Writer) error {
	var output string
	flags := pflag.NewFlagSet("kar extract", pflag.ContinueOnError)
	flags.StringVarP(&output, "output", "o", ".", "directory to extract into")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() < 1 {
		return errors.New("extract takes an archive")
	}
	a, closer, err := openArchive(flags.Arg(0))
	if err != nil {
		return err
	}
	defer closer.Close()

	names := flags.Args()[1:]
	if len(names) == 0 {
		names = a.Names()
	}
	for _, name := range names {
		if !filepath.IsLocal(filepath.FromSlash(name)) {
			return fmt.Errorf("refusing to extract '%s' outside the output directory", name)
		}
		data, err := a.ReadAll(name)
		if err != nil {
			return err
		}
		file := filepath.Join(output, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(file, data, 0644); err != nil {
			return err
		}
		fmt.Fprintln(stdout, file)
	}
	return nil
}
