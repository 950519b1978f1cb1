package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"sparkify/internal/common"
	"sparkify/internal/storms"
	"sparkify/internal/ui"
)

var (
	stormsDir     string
	stormsState   string
	stormsTypes   []string
	stormsEpisode int64
	stormsOutput  string
)

var stormsCmd = &cobra.Command{
	Use:   "storms",
	Short: "Outline storm events as a GeoJSON region",
	Long: `Read NOAA storm event detail files (*details*.csv), keep the events of one
state, event types and optionally one episode, and write their begin and end
points with the convex hull around them as a GeoJSON FeatureCollection in
the report directory.`,
	Args: cobra.NoArgs,
	RunE: runStorms,
}

func init() {
	rootCmd.AddCommand(stormsCmd)
	flags := stormsCmd.Flags()
	flags.StringVar(&stormsDir, "dir", "storm_data", "directory holding the detail CSV files")
	flags.StringVar(&stormsState, "state", storms.DefaultState, "state to keep")
	flags.StringSliceVar(&stormsTypes, "types", storms.DefaultEventTypes, "event types to keep")
	flags.Int64Var(&stormsEpisode, "episode", 0, "episode id to keep, 0 for all")
	flags.StringVar(&stormsOutput, "output", "storm_region.geojson", "GeoJSON file name in the report directory")
}

type stormsResult struct {
	Region string  `json:"region" yaml:"region"`
	Files  int     `json:"files" yaml:"files"`
	Events int     `json:"events" yaml:"events"`
	Points int     `json:"points" yaml:"points"`
	Hull   int     `json:"hull_vertices" yaml:"hull_vertices"`
	Lon    float64 `json:"center_lon" yaml:"center_lon"`
	Lat    float64 `json:"center_lat" yaml:"center_lat"`
	Path   string  `json:"path" yaml:"path"`
}

func runStorms(cmd *cobra.Command, args []string) error {
	format, err := outputFormat()
	if err != nil {
		return err
	}
	files, err := storms.DetailFiles(stormsDir)
	if err != nil {
		return err
	}

	filter := storms.Filter{State: stormsState, EventTypes: stormsTypes, EpisodeID: stormsEpisode}
	events, err := storms.Load(cmd.Context(), files, filter, log)
	if err != nil {
		return err
	}

	name := strings.ToUpper(stormsState)
	if stormsEpisode != 0 {
		name = fmt.Sprintf("%s episode %d", name, stormsEpisode)
	}
	region, err := storms.NewRegion(name, events)
	if err != nil {
		return err
	}
	if region.Hull == nil {
		ui.ShowWarning("Fewer than three distinct points, writing points without a region outline")
	}

	data, err := region.GeoJSON()
	if err != nil {
		return err
	}
	path, err := common.WriteReport(viper.GetString(keyReportDir), stormsOutput, data)
	if err != nil {
		return err
	}

	result := stormsResult{
		Region: region.Name,
		Files:  len(files),
		Events: region.Events,
		Points: len(region.Points),
		Hull:   len(region.Hull),
		Lon:    region.Center.Lon,
		Lat:    region.Center.Lat,
		Path:   path,
	}
	table := ui.Table{
		Title:  "Storm Region",
		Header: []string{"Stat", "Value"},
		Rows: [][]string{
			{"Region", result.Region},
			{"Files", strconv.Itoa(result.Files)},
			{"Events", strconv.Itoa(result.Events)},
			{"Points", strconv.Itoa(result.Points)},
			{"Hull vertices", strconv.Itoa(result.Hull)},
			{"Center", fmt.Sprintf("%.4f, %.4f", result.Lon, result.Lat)},
			{"GeoJSON", result.Path},
		},
	}
	return ui.Write(cmd.OutOrStdout(), format, result, []ui.Table{table})
}
