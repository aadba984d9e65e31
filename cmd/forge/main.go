// Command forge is the thin CLI frontend over the core build engine:
// load a project, plan a build, and drive it through the scheduler.
// A full command-line frontend and status renderer are out of scope
// for this core (see core spec §1); this binary exists only to
// exercise the engine end-to-end.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"

	"github.com/sirupsen/logrus"

	forge "github.com/forgebuild/forge"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	flag.Parse()

	switch flag.Arg(0) {
	case "build":
		if err := cmdBuild(ctx, flag.Args()[1:]); err != nil {
			fmt.Fprintf(os.Stderr, "%+v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "usage: forge build -p <project.yaml> <element...>\n")
		os.Exit(2)
	}
}

func cmdBuild(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("build", flag.ExitOnError)
	projectFile := flags.String("p", "project.yaml", "path to project configuration")
	cacheDir := flags.String("cache", ".forge-cache", "path to the local cache directory")
	strict := flags.Bool("strict", false, "use the strict cache-key policy")
	onError := flags.String("on-error", "quit", "continue or quit in-flight jobs after a fatal error")
	verbose := flags.Bool("v", false, "enable debug logging")

	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() == 0 {
		return fmt.Errorf("at least one element name is required")
	}

	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	proj, err := forge.LoadProjectFile(*projectFile)
	if err != nil {
		return err
	}

	elementDir := filepath.Join(filepath.Dir(*projectFile), proj.ElementPath)
	if err := loadElements(proj, elementDir); err != nil {
		return err
	}

	roots := flags.Args()
	if err := forge.ResolveDependencies(proj.Elements(), proj.Element); err != nil {
		return err
	}

	session, err := forge.Open(proj, *cacheDir, *strict)
	if err != nil {
		return err
	}
	session.OnError = *onError

	plan, err := session.Plan(roots)
	if err != nil {
		return err
	}
	logrus.WithField("plan", plan).Info("computed build plan")

	if err := session.ResolveKeys(plan); err != nil {
		return err
	}

	return session.RunQueue(ctx, plan, shellBuild)
}

// loadElements walks elementDir for *.fge files and registers each as
// an Element in proj. The concrete directory-walk-plus-parse loop a
// real CLI frontend would have is out of scope (core spec §1); this
// is the minimal version needed to drive the engine from the command
// line.
func loadElements(proj *forge.Project, elementDir string) error {
	entries, err := os.ReadDir(elementDir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".fge" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(elementDir, entry.Name()))
		if err != nil {
			return err
		}
		el, err := forge.LoadElementFile(entry.Name(), data)
		if err != nil {
			return err
		}
		if err := proj.AddElement(el); err != nil {
			return err
		}
	}
	return nil
}

// shellBuild is the minimal BuildFunc a standalone CLI can offer
// without a real sandbox backend: it runs Config["command"] with
// Environment set, staging Config["output"] (if set) as the files/
// artifact root. A production deployment supplies its own sandbox
// (core spec §1).
func shellBuild(ctx context.Context, e *forge.Element, buildDeps map[string]string) (string, string, []byte, error) {
	raw, _ := e.Config["command"].(string)
	if raw == "" {
		return "", "", nil, nil
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", raw)
	cmd.Env = os.Environ()
	for k, v := range e.Environment {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	out, err := cmd.CombinedOutput()

	var filesDir string
	if output, _ := e.Config["output"].(string); output != "" {
		filesDir = output
	}

	return filesDir, "", out, err
}
