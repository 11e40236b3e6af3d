package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"rtkbridge/internal/nmea"
)

func newGGACmd() *cobra.Command {
	var lat, lon, alt float64

	cmd := &cobra.Command{
		Use:   "gga",
		Short: "Print a synthetic GGA sentence for a fixed position",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if lat < -90 || lat > 90 {
				return fmt.Errorf("--lat must be in [-90,90]")
			}
			if lon < -180 || lon > 180 {
				return fmt.Errorf("--lon must be in [-180,180]")
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), nmea.SyntheticGGA(time.Now().UTC(), lat, lon, alt))
			return err
		},
	}
	cmd.Flags().Float64Var(&lat, "lat", nmea.DefaultSyntheticLat, "Latitude in decimal degrees")
	cmd.Flags().Float64Var(&lon, "lon", nmea.DefaultSyntheticLon, "Longitude in decimal degrees")
	cmd.Flags().Float64Var(&alt, "alt", nmea.DefaultSyntheticAlt, "Altitude in meters")
	return cmd
}
