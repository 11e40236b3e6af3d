// Package nmea holds the small amount of NMEA 0183 handling the relay needs:
// checksums, sentence framing, prefix filtering and GGA decoding for status.
package nmea
