// Package main: the grade command scores a local directory without a daemon.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/webtech-network/autograder-sub001/internal/config"
	"github.com/webtech-network/autograder-sub001/internal/feedback"
	"github.com/webtech-network/autograder-sub001/internal/logging"
	"github.com/webtech-network/autograder-sub001/internal/pipeline"
	"github.com/webtech-network/autograder-sub001/internal/sandbox"
	"github.com/webtech-network/autograder-sub001/internal/template"
	"github.com/webtech-network/autograder-sub001/internal/types"
)

var (
	gradeRubric   string
	gradeDir      string
	gradeLanguage string
	gradeJSON     bool
)

// gradeCmd grades one local submission
var gradeCmd = &cobra.Command{
	Use:   "grade",
	Short: "Grade a local directory against a rubric file",
	Long: `Runs the full grading pipeline once, without the daemon or the
database. The rubric file is a grading config in JSON, the same shape
POST /configs accepts.

Example:
  graded grade --rubric hw1.json --dir ./student --language python`,
	RunE: runGrade,
}

func init() {
	gradeCmd.Flags().StringVar(&gradeRubric, "rubric", "", "Rubric file (JSON grading config)")
	gradeCmd.Flags().StringVar(&gradeDir, "dir", ".", "Submission directory")
	gradeCmd.Flags().StringVar(&gradeLanguage, "language", "", "Submission language")
	gradeCmd.Flags().BoolVar(&gradeJSON, "json", false, "Print the full result as JSON")
	gradeCmd.MarkFlagRequired("rubric")
}

func runGrade(cmd *cobra.Command, args []string) error {
	cfg, err := loadServiceConfig()
	if err != nil {
		return err
	}
	defer logging.CloseAll()

	rubric, err := readRubric(gradeRubric)
	if err != nil {
		return err
	}
	files, err := readSubmissionDir(gradeDir)
	if err != nil {
		return err
	}

	registry := template.Builtin(template.Options{})
	tpl, err := registry.Lookup(rubric.Template)
	if err != nil {
		return err
	}

	// A sandbox pool only exists for templates that execute code, and only
	// for the submitted language.
	var pool *sandbox.Manager
	if tpl.NeedsSandbox() {
		spec, ok := cfg.Sandbox.Languages[gradeLanguage]
		if !ok {
			return fmt.Errorf("no sandbox pool configured for language %q", gradeLanguage)
		}
		pool = sandbox.NewManager(buildEngine(cfg), sandbox.ManagerConfig{
			Pools: []sandbox.PoolSpec{{
				Language:      gradeLanguage,
				Image:         spec.Image,
				PoolSize:      1,
				WorkingDir:    spec.WorkingDir,
				ContainerPort: spec.ContainerPort,
			}},
		})
		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()
		if err := pool.Initialize(ctx); err != nil {
			return fmt.Errorf("failed to start sandbox: %w", err)
		}
		defer pool.Shutdown(context.Background())
	}

	sub := &types.Submission{
		ID:           "local",
		AssignmentID: rubric.AssignmentID,
		Language:     gradeLanguage,
		Files:        files,
		Status:       types.SubmissionRunning,
	}

	deps := pipeline.Deps{
		Registry:        registry,
		Pool:            pool,
		FeedbackEnabled: true,
		AcquireTimeout:  config.DurationOr(cfg.Sandbox.AcquireTimeout, 30*time.Second),
		SetupTimeout:    config.DurationOr(cfg.Sandbox.SetupTimeout, 30*time.Second),
		TestTimeout:     config.DurationOr(cfg.Sandbox.TestTimeout, 15*time.Second),
	}

	runCtx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	pc := &pipeline.Context{Submission: sub, Config: rubric}
	exec := pipeline.NewRunner(pipeline.GradingSteps(deps), pool).Run(runCtx, pc)

	if gradeJSON {
		out := map[string]any{
			"status":             pipeline.StatusOf(exec),
			"result_tree":        pc.Result,
			"focus":              pc.Focus,
			"feedback":           pc.Feedback,
			"pipeline_execution": exec,
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	if exec.Status != "success" {
		fmt.Printf("Grading failed at %s\n\n", exec.FailedAtStep)
		fmt.Println(feedback.FailureFeedback(exec))
		return fmt.Errorf("grading did not complete")
	}
	fmt.Printf("Final score: %.2f\n\n", pc.Result.FinalScore)
	if pc.Feedback != "" {
		fmt.Println(pc.Feedback)
	}
	return nil
}

func readRubric(path string) (*types.GradingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rubric: %w", err)
	}
	var rubric types.GradingConfig
	if err := json.Unmarshal(data, &rubric); err != nil {
		return nil, fmt.Errorf("invalid rubric %s: %w", path, err)
	}
	return &rubric, nil
}

// readSubmissionDir loads every regular file in the directory, one level
// deep, mirroring what a student uploads.
func readSubmissionDir(dir string) ([]types.SubmissionFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read submission directory: %w", err)
	}
	var files []types.SubmissionFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		content, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", entry.Name(), err)
		}
		files = append(files, types.SubmissionFile{Name: entry.Name(), Content: content})
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no files in %s", dir)
	}
	return files, nil
}
