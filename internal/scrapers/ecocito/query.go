package ecocito

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"ecocito-poller/pkg/htmlutil"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	report_client_collection_events = "client.collection-events"
	report_client_depot_visits      = "client.depot-visits"
)

const (
	collectionEndpoint = "/Usager/Collecte/GetCollecte"
	depotVisitEndpoint = "/Usager/Apport/GetApport"

	// a single account never has more than this many events in a year
	pageSize = 1000

	portalErrorSelector = "div.error"
)

// QueryParams are the query string parameters the portal expects for a
// type and a year, the date range covers the whole year.
func QueryParams(eventType EventType, year int) map[string]string {
	return map[string]string{
		"charger":           "true",
		"skip":              "0",
		"take":              strconv.Itoa(pageSize),
		"requireTotalCount": "true",
		"idMatiere":         strconv.Itoa(int(eventType)),
		"dateDebut":         fmt.Sprintf("%04d-01-01T00:00:00.000Z", year),
		"dateFin":           fmt.Sprintf("%04d-12-31T23:59:59.999Z", year),
	}
}

type eventRow struct {
	Date     string `json:"DATE_DONNEE"`
	Location string `json:"LIBELLE_ADRESSE"`
	// nil when the portal left it out, depot visits never carry one
	Quantity *float64 `json:"QUANTITE_NETTE"`
}

type eventsResponse struct {
	Data []eventRow `json:"data"`
}

// the portal mostly sends zone-less timestamps, those are in its own timezone
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func (c *Client) parseTimestamp(value string) (time.Time, error) {
	var err error
	for _, layout := range timestampLayouts {
		var parsed time.Time
		parsed, err = time.ParseInLocation(layout, value, c.time.Location())
		if err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, err
}

// decodeRows reads the body as json first, if that fails the body is most
// likely an html page which either carries an error message or is the login
// form. Anything else is returned as the original json error.
func decodeRows(body []byte) ([]eventRow, error) {
	var parsed eventsResponse
	jsonErr := json.Unmarshal(body, &parsed)
	if jsonErr == nil {
		return parsed.Data, nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, jsonErr
	}
	message, ok := htmlutil.FirstText(doc.Find(portalErrorSelector))
	if ok {
		return nil, &PortalError{Message: message}
	}
	if doc.Find(loginFormSelector).Length() > 0 {
		return nil, &InvalidAuthError{Message: "session expired"}
	}
	return nil, jsonErr
}

func (c *Client) query(ctx context.Context, op, endpoint string, eventType EventType, year int) ([]eventRow, error) {
	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(QueryParams(eventType, year)).
		Get(endpoint)
	if err != nil {
		return nil, &ConnectionError{Op: op, Err: err}
	}
	if !res.IsSuccess() {
		return nil, &ConnectionError{
			Op:  op,
			Err: &StatusError{StatusCode: res.StatusCode(), Status: res.Status()},
		}
	}
	return decodeRows(res.Body())
}

// CollectionEvents returns the collections of a type over a calendar year.
func (c *Client) CollectionEvents(ctx context.Context, eventType EventType, year int) ([]CollectionEvent, error) {
	ctx, span := tracer.Start(ctx, "client:CollectionEvents")
	defer span.End()
	span.SetAttributes(
		attribute.Int("year", year),
		attribute.String("type", eventType.String()),
	)

	rows, err := c.query(ctx, "get collection events", collectionEndpoint, eventType, year)
	if err != nil {
		c.tel.ReportBroken(report_client_collection_events, err, eventType.String(), year)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get collection events")
		return nil, err
	}

	events := make([]CollectionEvent, 0, len(rows))
	for _, row := range rows {
		date, err := c.parseTimestamp(row.Date)
		if err != nil {
			err = fmt.Errorf("parse DATE_DONNEE: %w", err)
			c.tel.ReportBroken(report_client_collection_events, err, row.Date)
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to parse collection event")
			return nil, err
		}
		if row.Quantity == nil {
			err = fmt.Errorf("collection event of %s: missing QUANTITE_NETTE", row.Date)
			c.tel.ReportBroken(report_client_collection_events, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to parse collection event")
			return nil, err
		}
		events = append(events, CollectionEvent{
			Date:     date,
			Location: row.Location,
			Type:     eventType,
			Quantity: *row.Quantity,
		})
	}

	span.SetAttributes(attribute.Int("count", len(events)))
	return events, nil
}

func (c *Client) GarbageCollections(ctx context.Context, year int) ([]CollectionEvent, error) {
	return c.CollectionEvents(ctx, GarbageCollection, year)
}

func (c *Client) RecyclingCollections(ctx context.Context, year int) ([]CollectionEvent, error) {
	return c.CollectionEvents(ctx, RecyclingCollection, year)
}

// DepotVisits returns the waste depot visits over a calendar year.
func (c *Client) DepotVisits(ctx context.Context, year int) ([]DepotVisit, error) {
	ctx, span := tracer.Start(ctx, "client:DepotVisits")
	defer span.End()
	span.SetAttributes(attribute.Int("year", year))

	rows, err := c.query(ctx, "get waste depot visits", depotVisitEndpoint, DefaultCollection, year)
	if err != nil {
		c.tel.ReportBroken(report_client_depot_visits, err, year)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get depot visits")
		return nil, err
	}

	visits := make([]DepotVisit, 0, len(rows))
	for _, row := range rows {
		date, err := c.parseTimestamp(row.Date)
		if err != nil {
			err = fmt.Errorf("parse DATE_DONNEE: %w", err)
			c.tel.ReportBroken(report_client_depot_visits, err, row.Date)
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to parse depot visit")
			return nil, err
		}
		visits = append(visits, DepotVisit{Date: date})
	}

	span.SetAttributes(attribute.Int("count", len(visits)))
	return visits, nil
}
