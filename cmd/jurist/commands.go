package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/jurist/internal/config"
)

type queryOutput struct {
	ID       string `json:"id"`
	OwnerID  string `json:"ownerId"`
	Text     string `json:"text"`
	Modality string `json:"modality"`
	Status   string `json:"status"`
	Tags     []struct {
		Name string `json:"name"`
	} `json:"tags"`
}

type responseOutput struct {
	ID         string       `json:"id"`
	QueryID    string       `json:"queryId"`
	Answer     answerOutput `json:"answer"`
	Rating     *int         `json:"rating"`
	Published  bool         `json:"published"`
	SEOArticle *string      `json:"seoArticle"`
	Embedded   bool         `json:"embedded"`
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Submit a legal question",
	Long: `Submit a legal question, optionally with a voice recording or documents.

Examples:
  jurist ask "Как оформить наследство?"
  jurist ask --file ./договор.pdf "Законен ли этот договор?"
  jurist ask --audio ./вопрос.ogg`,
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")
		audio, _ := cmd.Flags().GetString("audio")
		files, _ := cmd.Flags().GetStringSlice("file")
		wait, _ := cmd.Flags().GetDuration("wait")
		text := strings.Join(args, " ")

		if text == "" && audio == "" && len(files) == 0 {
			return fmt.Errorf("a question, --audio or --file is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		req := map[string]any{"ownerId": owner, "text": text}
		if audio != "" {
			ref, err := uploadFile(ctx, client, audio, "audio")
			if err != nil {
				return err
			}
			req["audioRef"] = ref
		}
		var refs []string
		for _, f := range files {
			ref, err := uploadFile(ctx, client, f, "document")
			if err != nil {
				return err
			}
			refs = append(refs, ref)
		}
		if refs != nil {
			req["fileRefs"] = refs
		}

		resp, err := client.post(ctx, "/queries", req)
		if err != nil {
			return err
		}
		var submitted struct {
			QueryID string `json:"queryId"`
		}
		if err := decodeJSON(resp, &submitted); err != nil {
			return err
		}
		printSuccess("Query %s submitted", submitted.QueryID)

		if wait <= 0 {
			return nil
		}
		return waitForAnswer(ctx, client, submitted.QueryID, wait, time.Second)
	},
}

func uploadFile(ctx context.Context, client *apiClient, path, kind string) (string, error) {
	resp, err := client.upload(ctx, path, kind)
	if err != nil {
		return "", err
	}
	var out struct {
		Ref string `json:"ref"`
	}
	if err := decodeJSON(resp, &out); err != nil {
		return "", fmt.Errorf("uploading %s: %w", path, err)
	}
	return out.Ref, nil
}

// waitForAnswer reads the query status until it leaves processing or the
// deadline passes.
func waitForAnswer(ctx context.Context, client *apiClient, queryID string, wait, every time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	printStep("Waiting for the answer...")
	for {
		q, err := fetchQuery(ctx, client, queryID)
		if err != nil {
			return err
		}
		switch q.Status {
		case "completed":
			return showAnswer(ctx, client, q)
		case "failed":
			return fmt.Errorf("query %s failed", queryID)
		}
		select {
		case <-ctx.Done():
			printWarning("Still processing; check later with: jurist show %s", queryID)
			return nil
		case <-ticker.C:
		}
	}
}

func fetchQuery(ctx context.Context, client *apiClient, id string) (queryOutput, error) {
	resp, err := client.get(ctx, "/queries/"+url.PathEscape(id))
	if err != nil {
		return queryOutput{}, err
	}
	var q queryOutput
	err = decodeJSON(resp, &q)
	return q, err
}

func showAnswer(ctx context.Context, client *apiClient, q queryOutput) error {
	resp, err := client.get(ctx, "/queries/"+url.PathEscape(q.ID)+"/response")
	if err != nil {
		return err
	}
	var r responseOutput
	if err := decodeJSON(resp, &r); err != nil {
		return err
	}
	fmt.Println()
	writeAnswer(os.Stdout, r.Answer)
	if len(q.Tags) > 0 {
		names := make([]string, len(q.Tags))
		for i, t := range q.Tags {
			names[i] = t.Name
		}
		fmt.Printf("%s %s\n", colorize(colorCyan, "Теги:"), strings.Join(names, ", "))
	}
	fmt.Printf("%s %s\n", colorize(colorCyan, "Ответ:"), r.ID)
	return nil
}

func init() {
	askCmd.Flags().String("owner", "cli", "owner id the query is recorded for")
	askCmd.Flags().String("audio", "", "voice recording to transcribe")
	askCmd.Flags().StringSlice("file", nil, "document to attach (repeatable)")
	askCmd.Flags().Duration("wait", 2*time.Minute, "how long to wait for the answer (0 returns immediately)")
}

// --- show ---

var showCmd = &cobra.Command{
	Use:   "show <query-id>",
	Short: "Show a query and its answer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		q, err := fetchQuery(cmd.Context(), client, args[0])
		if err != nil {
			return err
		}
		printStatus("Query", "%s", q.ID)
		printStatus("Status", "%s", q.Status)
		printStatus("Modality", "%s", q.Modality)
		printStatus("Question", "%s", truncate(q.Text, 200))
		if q.Status != "completed" {
			return nil
		}
		return showAnswer(cmd.Context(), client, q)
	},
}

// --- rate ---

var rateCmd = &cobra.Command{
	Use:   "rate <response-id> <1-5>",
	Short: "Rate an answer; a 5 triggers article generation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rating, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("rating must be a number: %w", err)
		}
		actor, _ := cmd.Flags().GetString("actor")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/responses/"+url.PathEscape(args[0])+"/rating", map[string]any{
			"rating": rating,
			"actor":  actor,
		})
		if err != nil {
			return err
		}
		var out map[string]any
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		printSuccess("Rated %s with %d", args[0], rating)
		return nil
	},
}

func init() {
	rateCmd.Flags().String("actor", "cli", "who is rating, recorded in the audit log")
}

// --- publish ---

var publishCmd = &cobra.Command{
	Use:   "publish <response-id>",
	Short: "Publish or unpublish an answer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		off, _ := cmd.Flags().GetBool("off")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/responses/"+url.PathEscape(args[0])+"/publish", map[string]any{
			"published": !off,
		})
		if err != nil {
			return err
		}
		var out map[string]any
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		if off {
			printSuccess("Unpublished %s", args[0])
		} else {
			printSuccess("Published %s", args[0])
		}
		return nil
	},
}

func init() {
	publishCmd.Flags().Bool("off", false, "unpublish instead")
}

// --- similar ---

type similarOutput struct {
	ResponseID string  `json:"responseId"`
	Question   string  `json:"question"`
	Score      float64 `json:"score"`
}

var similarCmd = &cobra.Command{
	Use:   "similar <response-id>",
	Short: "List answers similar to a response",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		threshold, _ := cmd.Flags().GetFloat64("threshold")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		q := url.Values{}
		if threshold > 0 {
			q.Set("threshold", fmt.Sprintf("%g", threshold))
		}
		q.Set("limit", fmt.Sprintf("%d", limit))
		resp, err := client.get(cmd.Context(), "/responses/"+url.PathEscape(args[0])+"/similar?"+q.Encode())
		if err != nil {
			return err
		}
		var results []similarOutput
		if err := decodeJSON(resp, &results); err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Println("No similar answers found.")
			return nil
		}
		for _, r := range results {
			fmt.Printf("%s  [%.3f]  %s\n", colorize(colorCyan, r.ResponseID), r.Score, truncate(r.Question, 80))
		}
		return nil
	},
}

func init() {
	similarCmd.Flags().Float64("threshold", 0, "minimum similarity in [0, 1] (default: server setting)")
	similarCmd.Flags().Int("limit", 10, "maximum number of results")
}

// --- clusters ---

var clustersCmd = &cobra.Command{
	Use:   "clusters",
	Short: "Group answered questions by similarity",
	RunE: func(cmd *cobra.Command, args []string) error {
		threshold, _ := cmd.Flags().GetFloat64("threshold")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		path := "/responses/clusters"
		if threshold > 0 {
			path += fmt.Sprintf("?threshold=%g", threshold)
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}
		var groups []struct {
			Size    int `json:"size"`
			Members []struct {
				ResponseID string `json:"responseId"`
				Question   string `json:"question"`
			} `json:"members"`
		}
		if err := decodeJSON(resp, &groups); err != nil {
			return err
		}
		if len(groups) == 0 {
			fmt.Println("No clusters found.")
			return nil
		}
		for i, g := range groups {
			fmt.Printf("\n%s (%d)\n", colorize(colorBold, fmt.Sprintf("Cluster %d", i+1)), g.Size)
			for _, m := range g.Members {
				fmt.Printf("  %s  %s\n", colorize(colorCyan, m.ResponseID), truncate(m.Question, 80))
			}
		}
		return nil
	},
}

func init() {
	clustersCmd.Flags().Float64("threshold", 0, "minimum similarity in [0, 1] (default: server setting)")
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <text>",
	Short: "Full-text search over published answers",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		q := url.Values{"q": {strings.Join(args, " ")}, "limit": {fmt.Sprintf("%d", limit)}}
		resp, err := client.get(cmd.Context(), "/published/search?"+q.Encode())
		if err != nil {
			return err
		}
		var hits []struct {
			ResponseID string  `json:"responseId"`
			Score      float64 `json:"score"`
		}
		if err := decodeJSON(resp, &hits); err != nil {
			return err
		}
		if len(hits) == 0 {
			fmt.Println("No results found.")
			return nil
		}
		for _, h := range hits {
			fmt.Printf("%s  [score: %.3f]\n", colorize(colorCyan, h.ResponseID), h.Score)
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().Int("limit", 10, "maximum number of results")
}

// --- upload ---

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a file and print its reference",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, _ := cmd.Flags().GetString("kind")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ref, err := uploadFile(cmd.Context(), client, args[0], kind)
		if err != nil {
			return err
		}
		fmt.Println(ref)
		return nil
	},
}

func init() {
	uploadCmd.Flags().String("kind", "document", "document or audio")
}

// --- backfill ---

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Embed one batch of answers stored without an embedding",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/responses/embeddings/backfill", nil)
		if err != nil {
			return err
		}
		var res struct {
			Embedded int `json:"embedded"`
			Pending  int `json:"pending"`
		}
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}
		printSuccess("Embedded %d answers", res.Embedded)
		if res.Pending > 0 {
			printWarning("%d answers could not be embedded", res.Pending)
		}
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadClient()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
