package main

import (
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/kyb-worker/internal/model"
	"github.com/sells-group/kyb-worker/internal/worker"
)

var (
	submitManifestPath string
	submitRetryMode    string
	submitFailedChecks []string
	submitNoEnqueue    bool
)

// companyManifest is the YAML shape of a submission file: a list of
// companies to import and enqueue for verification.
type companyManifest struct {
	Companies []manifestCompany `yaml:"companies"`
}

type manifestCompany struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Domain      string `yaml:"domain"`
	Email       string `yaml:"email"`
	Phone       string `yaml:"phone"`
	Region      string `yaml:"region"`
	WebsiteURL  string `yaml:"website_url"`
	Description string `yaml:"description"`
}

func (m manifestCompany) submittedData() model.SubmittedData {
	return model.SubmittedData{
		CompanyID:   m.ID,
		Name:        m.Name,
		Domain:      m.Domain,
		Email:       m.Email,
		Phone:       m.Phone,
		Region:      m.Region,
		WebsiteURL:  m.WebsiteURL,
		Description: m.Description,
	}
}

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Import companies from a YAML manifest and enqueue verification jobs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		raw, err := os.ReadFile(submitManifestPath)
		if err != nil {
			return eris.Wrap(err, "read manifest")
		}

		var manifest companyManifest
		if err := yaml.Unmarshal(raw, &manifest); err != nil {
			return eris.Wrap(err, "parse manifest")
		}
		if len(manifest.Companies) == 0 {
			return eris.New("manifest contains no companies")
		}

		var failedChecks []model.CheckKind
		for _, name := range submitFailedChecks {
			name = strings.TrimSpace(name)
			if !model.ValidCheckKind(name) {
				return eris.Errorf("unknown check kind: %q", name)
			}
			failedChecks = append(failedChecks, model.CheckKind(name))
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		companies := make([]model.SubmittedData, 0, len(manifest.Companies))
		for _, c := range manifest.Companies {
			if c.Name == "" {
				return eris.New("manifest company is missing a name")
			}
			data := c.submittedData()
			// Assign ids here so the enqueued jobs reference the same rows.
			if data.CompanyID == "" {
				data.CompanyID = uuid.New().String()
			}
			companies = append(companies, data)
		}

		imported, err := st.ImportCompanies(ctx, companies)
		if err != nil {
			return eris.Wrap(err, "import companies")
		}
		zap.L().Info("companies imported",
			zap.Int64("imported", imported),
			zap.String("manifest", submitManifestPath),
		)

		if submitNoEnqueue {
			return nil
		}

		producer, err := worker.NewProducer(cfg.Queue.Brokers)
		if err != nil {
			return err
		}

		enqueued := 0
		for _, c := range companies {
			job := model.VerificationJob{
				CompanyID:    c.CompanyID,
				RetryMode:    model.RetryMode(submitRetryMode),
				FailedChecks: failedChecks,
			}
			if err := job.Validate(); err != nil {
				return err
			}
			payload, err := job.Encode()
			if err != nil {
				return err
			}
			if err := producer.Publish(ctx, cfg.Queue.JobsTopic, job.CompanyID, payload); err != nil {
				return eris.Wrapf(err, "enqueue %s", job.CompanyID)
			}
			enqueued++
		}

		zap.L().Info("verification jobs enqueued",
			zap.Int("enqueued", enqueued),
			zap.String("topic", cfg.Queue.JobsTopic),
			zap.String("retry_mode", submitRetryMode),
		)
		return nil
	},
}

func init() {
	submitCmd.Flags().StringVar(&submitManifestPath, "manifest", "", "path to YAML manifest (required)")
	submitCmd.Flags().StringVar(&submitRetryMode, "retry-mode", "full", "retry mode: full or failed_only")
	submitCmd.Flags().StringSliceVar(&submitFailedChecks, "failed-checks", nil, "checks to re-run with --retry-mode failed_only")
	submitCmd.Flags().BoolVar(&submitNoEnqueue, "no-enqueue", false, "import companies without enqueueing jobs")
	_ = submitCmd.MarkFlagRequired("manifest")
	rootCmd.AddCommand(submitCmd)
}
