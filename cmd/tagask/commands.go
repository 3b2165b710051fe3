package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/tagask/internal/config"
	"github.com/kalambet/tagask/internal/directory"
	"github.com/kalambet/tagask/internal/dispatch"
	"github.com/kalambet/tagask/internal/question"
	"github.com/kalambet/tagask/internal/storage"
)

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// clientFor builds an API client that forwards --graph-token when given.
func clientFor(cmd *cobra.Command) (*apiClient, error) {
	c, err := newAPIClient()
	if err != nil {
		return nil, err
	}
	c.graphToken, _ = cmd.Flags().GetString("graph-token")
	return c, nil
}

// teamFlag returns --team, falling back to the configured team.
func teamFlag(cmd *cobra.Command) (string, error) {
	if team, _ := cmd.Flags().GetString("team"); team != "" {
		return team, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return "", err
	}
	if cfg.Graph.TeamID == "" {
		return "", fmt.Errorf("--team is required (or set graph.team_id)")
	}
	return cfg.Graph.TeamID, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Send a question to everyone carrying all of the given tags",
	Long: `Send a question to everyone carrying all of the given tags.

Examples:
  tagask ask --tags go,k8s --topic "Rollback" --requester u1 "How do I roll back a deploy?"
  tagask ask --tags go --topic "GC" --requester u1 --target one_random --online "Who tuned GOGC?"
  tagask ask --tags sre --topic "Pager" --requester u1 --delivery email "Who owns the pager?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tags, _ := cmd.Flags().GetString("tags")
		topic, _ := cmd.Flags().GetString("topic")
		requester, _ := cmd.Flags().GetString("requester")
		delivery, _ := cmd.Flags().GetString("delivery")
		target, _ := cmd.Flags().GetString("target")
		online, _ := cmd.Flags().GetBool("online")

		team, err := teamFlag(cmd)
		if err != nil {
			return err
		}
		client, err := clientFor(cmd)
		if err != nil {
			return err
		}
		return runAsk(cmd.Context(), client, os.Stdout, question.Request{
			Tags:        splitList(tags),
			Topic:       topic,
			Body:        strings.Join(args, " "),
			TeamID:      team,
			RequesterID: requester,
			Delivery:    dispatch.Delivery(delivery),
			Target:      dispatch.Target(target),
			OnlyOnline:  online,
		})
	},
}

func init() {
	askCmd.Flags().String("tags", "", "comma-separated tag ids; recipients carry every one")
	askCmd.Flags().String("topic", "", "short subject of the question")
	askCmd.Flags().String("requester", "", "directory user id of the person asking")
	askCmd.Flags().String("delivery", string(dispatch.DeliveryTeams), "teams or email")
	askCmd.Flags().String("target", string(dispatch.TargetAll), "all or one_random")
	askCmd.Flags().Bool("online", false, "only reach people who are available now")
	askCmd.Flags().String("team", "", "team that owns the tags (default: graph.team_id)")
	askCmd.Flags().String("graph-token", os.Getenv("TAGASK_GRAPH_TOKEN"), "delegated Graph token to act as the caller")
}

func runAsk(ctx context.Context, c *apiClient, w io.Writer, req question.Request) error {
	resp, err := c.post(ctx, "/api/questions", req)
	if err != nil {
		return err
	}
	var res question.Result
	if err := decodeJSON(resp, &res); err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) {
			for _, p := range apiErr.Problems {
				printError("%s", p)
			}
		}
		return err
	}

	r := res.Receipt
	if r.ViaEmail {
		printSuccess("Emailed %d recipient(s)", len(r.Recipients))
	} else {
		printSuccess("Asked %d recipient(s) via %s chat", len(r.Recipients), res.Strategy)
	}
	for _, rc := range r.Recipients {
		fmt.Fprintf(w, "  %s\n", rc.DisplayName)
	}
	if r.ConversationURL != "" {
		printStatus("Conversation", "%s", r.ConversationURL)
	}
	return nil
}

// --- leaderboard ---

var leaderboardCmd = &cobra.Command{
	Use:   "leaderboard",
	Short: "Show helpers ranked by points",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runLeaderboard(cmd.Context(), client, os.Stdout)
	},
}

func fetchLeaderboard(ctx context.Context, c *apiClient) ([]storage.LeaderboardEntry, error) {
	resp, err := c.get(ctx, "/api/leaderboard")
	if err != nil {
		return nil, err
	}
	var board []storage.LeaderboardEntry
	if err := decodeJSON(resp, &board); err != nil {
		return nil, err
	}
	return board, nil
}

func runLeaderboard(ctx context.Context, c *apiClient, w io.Writer) error {
	board, err := fetchLeaderboard(ctx, c)
	if err != nil {
		return err
	}
	if len(board) == 0 {
		fmt.Fprintln(w, "Nobody has been asked yet.")
		return nil
	}
	rows := make([][]string, 0, len(board))
	for i, e := range board {
		rows = append(rows, []string{strconv.Itoa(i + 1), e.DisplayName, strconv.Itoa(e.Points)})
	}
	printTable(w, []string{"#", "NAME", "POINTS"}, rows)
	return nil
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent questions",
	RunE: func(cmd *cobra.Command, args []string) error {
		tag, _ := cmd.Flags().GetString("tag")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runHistory(cmd.Context(), client, os.Stdout, tag, limit)
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <conversation-id>",
	Short: "Show one question with its summary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/api/history/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var entry storage.HistoryEntry
		if err := decodeJSON(resp, &entry); err != nil {
			return err
		}
		return printJSON(os.Stdout, entry)
	},
}

func init() {
	historyCmd.Flags().String("tag", "", "only questions sent to this tag id")
	historyCmd.Flags().Int("limit", 5, "maximum number of questions")
	historyCmd.AddCommand(historyShowCmd)
}

func runHistory(ctx context.Context, c *apiClient, w io.Writer, tag string, limit int) error {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	path := "/api/history?" + q.Encode()
	if tag != "" {
		path = "/api/history/by-tag/" + url.PathEscape(tag) + "?" + q.Encode()
	}

	resp, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	var entries []storage.HistoryEntry
	if err := decodeJSON(resp, &entries); err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "No questions found.")
		return nil
	}

	for _, e := range entries {
		names := make([]string, 0, len(e.Tags))
		for _, t := range e.Tags {
			names = append(names, t.Name)
		}
		fmt.Fprintf(w, "%s  %s  %s\n",
			colorize(colorCyan, e.CreatedAt.Local().Format("2006-01-02 15:04")),
			colorize(colorBold, truncate(e.Topic, 60)),
			strings.Join(names, ", "),
		)
		if e.Summary != "" {
			fmt.Fprintf(w, "    %s\n", truncate(e.Summary, 200))
		}
	}
	return nil
}

// --- summarize ---

var summarizeCmd = &cobra.Command{
	Use:   "summarize <conversation-id>",
	Short: "Summarize a question's conversation and store the summary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		async, _ := cmd.Flags().GetBool("async")

		client, err := clientFor(cmd)
		if err != nil {
			return err
		}
		return runSummarize(cmd.Context(), client, os.Stdout, args[0], async)
	},
}

func init() {
	summarizeCmd.Flags().Bool("async", false, "queue the summary instead of waiting")
	summarizeCmd.Flags().String("graph-token", os.Getenv("TAGASK_GRAPH_TOKEN"), "delegated Graph token to act as the caller")
}

func runSummarize(ctx context.Context, c *apiClient, w io.Writer, conversationID string, async bool) error {
	path := "/api/history/" + url.PathEscape(conversationID) + "/summary"
	if async {
		path += "?async=true"
	}
	resp, err := c.post(ctx, path, nil)
	if err != nil {
		return err
	}

	if async {
		var job struct {
			JobID  string `json:"jobId"`
			Status string `json:"status"`
		}
		if err := decodeJSON(resp, &job); err != nil {
			return err
		}
		printSuccess("Queued summary job %s", job.JobID)
		return nil
	}

	var res struct {
		Summary  string `json:"summary"`
		Attached bool   `json:"attached"`
	}
	if err := decodeJSON(resp, &res); err != nil {
		return err
	}
	if !res.Attached {
		printWarning("%s", res.Summary)
		return nil
	}
	fmt.Fprintln(w, res.Summary)
	return nil
}

// --- tags ---

var tagsCmd = &cobra.Command{
	Use:   "tags",
	Short: "Manage team tags",
}

var tagsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the team's tags",
	RunE: tagRun(func(cmd *cobra.Command, c *apiClient, base string, args []string) error {
		return runTagsList(cmd.Context(), c, os.Stdout, base)
	}),
}

var tagsGetCmd = &cobra.Command{
	Use:   "get <tag-id>",
	Short: "Show one tag",
	Args:  cobra.ExactArgs(1),
	RunE: tagRun(func(cmd *cobra.Command, c *apiClient, base string, args []string) error {
		ctx := cmd.Context()
		resp, err := c.get(ctx, base+"/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var tag directory.Tag
		if err := decodeJSON(resp, &tag); err != nil {
			return err
		}
		return printJSON(os.Stdout, tag)
	}),
}

var tagsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a tag with initial members",
	Args:  cobra.ExactArgs(1),
	RunE: tagRun(func(cmd *cobra.Command, c *apiClient, base string, args []string) error {
		return runTagsCreate(cmd.Context(), c, base, directory.TagInput{
			DisplayName: args[0],
			Description: flagString(cmd, "description"),
			AddUserIDs:  splitList(flagString(cmd, "members")),
		})
	}),
}

var tagsUpdateCmd = &cobra.Command{
	Use:   "update <tag-id>",
	Short: "Rename a tag or change its members",
	Args:  cobra.ExactArgs(1),
	RunE: tagRun(func(cmd *cobra.Command, c *apiClient, base string, args []string) error {
		return runTagsUpdate(cmd.Context(), c, base, args[0], directory.TagInput{
			DisplayName:     flagString(cmd, "name"),
			Description:     flagString(cmd, "description"),
			AddUserIDs:      splitList(flagString(cmd, "add")),
			RemoveMemberIDs: splitList(flagString(cmd, "remove")),
		})
	}),
}

var tagsDeleteCmd = &cobra.Command{
	Use:   "delete <tag-id>",
	Short: "Delete a tag",
	Args:  cobra.ExactArgs(1),
	RunE: tagRun(func(cmd *cobra.Command, c *apiClient, base string, args []string) error {
		ctx := cmd.Context()
		resp, err := c.delete(ctx, base+"/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Deleted tag %s", args[0])
		return nil
	}),
}

var tagsDuplicateCmd = &cobra.Command{
	Use:   "duplicate <tag-id>",
	Short: "Copy a tag and its members under a free name",
	Args:  cobra.ExactArgs(1),
	RunE: tagRun(func(cmd *cobra.Command, c *apiClient, base string, args []string) error {
		ctx := cmd.Context()
		resp, err := c.post(ctx, base+"/"+url.PathEscape(args[0])+"/duplicate", nil)
		if err != nil {
			return err
		}
		var tag directory.Tag
		if err := decodeJSON(resp, &tag); err != nil {
			return err
		}
		printSuccess("Created %s (%s)", tag.DisplayName, tag.ID)
		return nil
	}),
}

var tagsMembersCmd = &cobra.Command{
	Use:   "members <tag-id>",
	Short: "List a tag's members",
	Args:  cobra.ExactArgs(1),
	RunE: tagRun(func(cmd *cobra.Command, c *apiClient, base string, args []string) error {
		return runTagsMembers(cmd.Context(), c, os.Stdout, base, args[0])
	}),
}

func flagString(cmd *cobra.Command, name string) string {
	v, _ := cmd.Flags().GetString(name)
	return v
}

// tagRun resolves the team and client, then calls fn with the team's tag
// collection path.
func tagRun(fn func(cmd *cobra.Command, c *apiClient, base string, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		team, err := teamFlag(cmd)
		if err != nil {
			return err
		}
		client, err := clientFor(cmd)
		if err != nil {
			return err
		}
		return fn(cmd, client, tagsPath(team), args)
	}
}

func tagsPath(teamID string) string {
	return "/api/teams/" + url.PathEscape(teamID) + "/tags"
}

func init() {
	tagsCmd.PersistentFlags().String("team", "", "team that owns the tags (default: graph.team_id)")
	tagsCmd.PersistentFlags().String("graph-token", os.Getenv("TAGASK_GRAPH_TOKEN"), "delegated Graph token to act as the caller")

	tagsCreateCmd.Flags().String("description", "", "tag description")
	tagsCreateCmd.Flags().String("members", "", "comma-separated user ids (at least one)")
	tagsUpdateCmd.Flags().String("name", "", "new display name")
	tagsUpdateCmd.Flags().String("description", "", "new description")
	tagsUpdateCmd.Flags().String("add", "", "comma-separated user ids to add")
	tagsUpdateCmd.Flags().String("remove", "", "comma-separated membership ids to remove")

	tagsCmd.AddCommand(tagsListCmd)
	tagsCmd.AddCommand(tagsGetCmd)
	tagsCmd.AddCommand(tagsCreateCmd)
	tagsCmd.AddCommand(tagsUpdateCmd)
	tagsCmd.AddCommand(tagsDeleteCmd)
	tagsCmd.AddCommand(tagsDuplicateCmd)
	tagsCmd.AddCommand(tagsMembersCmd)
}

func runTagsList(ctx context.Context, c *apiClient, w io.Writer, base string) error {
	resp, err := c.get(ctx, base)
	if err != nil {
		return err
	}
	var tags []directory.Tag
	if err := decodeJSON(resp, &tags); err != nil {
		return err
	}
	if len(tags) == 0 {
		fmt.Fprintln(w, "No tags found.")
		return nil
	}
	rows := make([][]string, 0, len(tags))
	for _, t := range tags {
		rows = append(rows, []string{t.ID, t.DisplayName, strconv.Itoa(t.MemberCount)})
	}
	printTable(w, []string{"ID", "NAME", "MEMBERS"}, rows)
	return nil
}

func runTagsCreate(ctx context.Context, c *apiClient, base string, in directory.TagInput) error {
	if len(in.AddUserIDs) == 0 {
		return fmt.Errorf("--members is required")
	}
	resp, err := c.post(ctx, base, in)
	if err != nil {
		return err
	}
	var tag directory.Tag
	if err := decodeJSON(resp, &tag); err != nil {
		return err
	}
	printSuccess("Created %s (%s)", tag.DisplayName, tag.ID)
	return nil
}

func runTagsUpdate(ctx context.Context, c *apiClient, base, tagID string, in directory.TagInput) error {
	resp, err := c.patch(ctx, base+"/"+url.PathEscape(tagID), in)
	if err != nil {
		return err
	}
	var res struct {
		FailedAdds    []string `json:"failedAdds"`
		FailedRemoves []string `json:"failedRemoves"`
	}
	if err := decodeJSON(resp, &res); err != nil {
		return err
	}
	if len(res.FailedAdds) > 0 {
		printWarning("Could not add: %s", strings.Join(res.FailedAdds, ", "))
	}
	if len(res.FailedRemoves) > 0 {
		printWarning("Could not remove: %s", strings.Join(res.FailedRemoves, ", "))
	}
	if len(res.FailedAdds)+len(res.FailedRemoves) > 0 {
		return fmt.Errorf("tag %s partially updated", tagID)
	}
	printSuccess("Updated tag %s", tagID)
	return nil
}

func runTagsMembers(ctx context.Context, c *apiClient, w io.Writer, base, tagID string) error {
	resp, err := c.get(ctx, base+"/"+url.PathEscape(tagID)+"/members")
	if err != nil {
		return err
	}
	var members []directory.Member
	if err := decodeJSON(resp, &members); err != nil {
		return err
	}
	rows := make([][]string, 0, len(members))
	for _, m := range members {
		rows = append(rows, []string{m.UserID, m.DisplayName, m.ID})
	}
	printTable(w, []string{"USER", "NAME", "MEMBERSHIP"}, rows)
	return nil
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
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, "$"+k.EnvVar))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys:\n  " + strings.Join(config.ValidKeys(), "\n  "),
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

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a configuration value so its default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

var configSetSecretCmd = &cobra.Command{
	Use:   "set-secret <key>",
	Short: "Store a secret (read from stdin) in the secret store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := io.ReadAll(io.LimitReader(os.Stdin, 64<<10))
		if err != nil {
			return fmt.Errorf("reading secret: %w", err)
		}
		value := strings.TrimSpace(string(data))
		if value == "" {
			return fmt.Errorf("empty secret on stdin")
		}
		if err := config.SetSecret(config.NewSecretStore(), args[0], value); err != nil {
			return err
		}
		printSuccess("Stored %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
	configCmd.AddCommand(configSetSecretCmd)
}
