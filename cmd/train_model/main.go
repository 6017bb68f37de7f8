// Command train_model fits a price model on a used-bike listings CSV and
// writes the artifact the server loads.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"bikeprice/config"
	"bikeprice/db"
	"bikeprice/logging"
	"bikeprice/ml"
)

type trainOptions struct {
	DataPath  string
	ModelType string
	OutPath   string
	TestRatio float64
	MaxDepth  int
	Ridge     float64
	Seed      int64
	DBPath    string
	Clean     bool
	OutlierK  float64
}

type trainReport struct {
	ModelType   string
	TrainRows   int
	TestRows    int
	DroppedRows int
	Cleaning    ml.CleaningStats
	Evaluation  ml.Evaluation
	OutPath     string

	// linear models only
	Coefficients  map[string]float64
	Intercept     float64
	FeatureRanges map[string][2]float64
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := trainOptions{}
	var logLevel string

	cmd := &cobra.Command{
		Use:          "train_model",
		Short:        "Train the used-bike price model",
		Long:         `Reads a listings CSV (selling_price, year, km_driven, ex_showroom_price), fits a regression model, reports hold-out metrics and saves the artifact.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.New(config.LoggingConfig{Level: logLevel, Format: "console"})
			if err != nil {
				return err
			}
			defer logger.Sync()

			report, err := run(cmd.Context(), opts, logger, time.Now())
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), report)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.DataPath, "data", "data/bike_details.csv", "listings CSV to train on")
	flags.StringVar(&opts.ModelType, "model-type", ml.ModelTypeLinear, "model to fit: linear or decision_tree")
	flags.StringVar(&opts.OutPath, "out", "best_bike_price_model.json", "artifact output path")
	flags.Float64Var(&opts.TestRatio, "test-ratio", 0.2, "fraction of rows held out for evaluation")
	flags.IntVar(&opts.MaxDepth, "max-depth", 8, "max tree depth (decision_tree)")
	flags.Float64Var(&opts.Ridge, "ridge", 0.001, "ridge penalty (linear); year and age are collinear so keep this above zero")
	flags.Int64Var(&opts.Seed, "seed", 42, "shuffle seed for the train/test split")
	flags.StringVar(&opts.DBPath, "db", "", "optional SQLite database to append a training_log row to")
	flags.BoolVar(&opts.Clean, "clean", true, "drop duplicate and implausibly priced listings before training")
	flags.Float64Var(&opts.OutlierK, "outlier-k", 0, "also drop prices outside the k*IQR fences; 0 disables")
	flags.StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	return cmd
}

func run(ctx context.Context, opts trainOptions, logger *zap.Logger, now time.Time) (*trainReport, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	set, err := ml.LoadTrainingCSV(opts.DataPath, now.Year())
	if err != nil {
		return nil, fmt.Errorf("load training data: %w", err)
	}
	logger.Info("training data loaded",
		zap.String("path", opts.DataPath),
		zap.Int("rows", len(set.Features)),
		zap.Int("dropped", set.Dropped))

	var cleaning ml.CleaningStats
	if opts.Clean {
		rules := []ml.CleaningRule{ml.NewDuplicateRule(), &ml.PriceRatioRule{MaxRatio: 2}}
		if opts.OutlierK > 0 {
			iqr := &ml.IQRRule{K: opts.OutlierK}
			iqr.Fit(set.Targets)
			rules = append(rules, iqr)
		}
		var issues []ml.CleaningIssue
		set, cleaning, issues = ml.NewCleaner(rules...).Clean(set)
		for _, issue := range issues {
			logger.Debug("row rejected",
				zap.Int("row", issue.Row),
				zap.String("rule", issue.Rule),
				zap.String("reason", issue.Message))
		}
		logger.Info("training data cleaned",
			zap.Int("passed", cleaning.Passed),
			zap.Int("rejected", cleaning.Rejected))
	}

	model, err := ml.NewModel(opts.ModelType, opts.MaxDepth, opts.Ridge)
	if err != nil {
		return nil, err
	}

	trainX, trainY, testX, testY := ml.SplitDataset(set.Features, set.Targets, opts.TestRatio, opts.Seed)
	if len(trainX) == 0 {
		return nil, errors.New("not enough rows to train")
	}
	if err := model.Train(trainX, trainY); err != nil {
		return nil, fmt.Errorf("train %s: %w", opts.ModelType, err)
	}

	evalX, evalY := testX, testY
	if len(evalX) == 0 {
		logger.Warn("hold-out set is empty, reporting training fit")
		evalX, evalY = trainX, trainY
	}
	eval, err := ml.Evaluate(model, evalX, evalY)
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	logger.Info("model evaluated",
		zap.String("type", model.Type()),
		zap.Float64("r2", eval.R2),
		zap.Float64("mae", eval.MAE),
		zap.Float64("rmse", eval.RMSE))

	if dir := filepath.Dir(opts.OutPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create model dir: %w", err)
		}
	}
	if err := model.Save(opts.OutPath); err != nil {
		return nil, fmt.Errorf("save model: %w", err)
	}
	logger.Info("model saved", zap.String("path", opts.OutPath))

	if opts.DBPath != "" {
		store, err := db.Open(opts.DBPath)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		if err := store.SaveTrainingLog(ctx, db.TrainingLog{
			ModelName:   model.Type(),
			R2:          eval.R2,
			MAE:         eval.MAE,
			RMSE:        eval.RMSE,
			TrainedAt:   now,
			DataPoints:  len(set.Features),
			DroppedRows: set.Dropped,
		}); err != nil {
			return nil, fmt.Errorf("record training run: %w", err)
		}
	}

	report := &trainReport{
		ModelType:   model.Type(),
		TrainRows:   len(trainX),
		TestRows:    len(testX),
		DroppedRows: set.Dropped,
		Cleaning:    cleaning,
		Evaluation:  eval,
		OutPath:     opts.OutPath,
	}
	if lr, ok := model.(*ml.LinearRegression); ok {
		weights, intercept := lr.Coefficients()
		report.Coefficients = make(map[string]float64, len(weights))
		for i, name := range lr.FeatureNames() {
			if i < len(weights) {
				report.Coefficients[name] = weights[i]
			}
		}
		report.Intercept = intercept
		report.FeatureRanges = lr.FeatureRanges()
		logger.Debug("linear coefficients",
			zap.Any("coefficients", report.Coefficients),
			zap.Float64("intercept", intercept))
	}
	return report, nil
}

func printReport(w io.Writer, r *trainReport) {
	fmt.Fprintf(w, "model:    %s\n", r.ModelType)
	fmt.Fprintf(w, "rows:     %d train / %d test (%d dropped)\n", r.TrainRows, r.TestRows, r.DroppedRows)
	if r.Cleaning.Rejected > 0 {
		fmt.Fprintf(w, "cleaning: %d rejected %v\n", r.Cleaning.Rejected, r.Cleaning.ByRule)
	}
	fmt.Fprintf(w, "r2=%.4f mae=%.2f rmse=%.2f\n", r.Evaluation.R2, r.Evaluation.MAE, r.Evaluation.RMSE)
	if len(r.Coefficients) > 0 {
		fmt.Fprintf(w, "intercept: %.2f\n", r.Intercept)
		for _, name := range ml.FeatureNames() {
			rng := r.FeatureRanges[name]
			fmt.Fprintf(w, "  %-18s weight=%-14.2f range=[%.0f, %.0f]\n", name, r.Coefficients[name], rng[0], rng[1])
		}
	}
	fmt.Fprintf(w, "model saved to %s\n", r.OutPath)
}
