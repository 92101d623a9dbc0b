package provider

import (
	"context"
	"fmt"
	"os"
	"strings"

	dialogflow "cloud.google.com/go/dialogflow/apiv2"
	"cloud.google.com/go/dialogflow/apiv2/dialogflowpb"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
)

type detectIntentFunc func(ctx context.Context, req *dialogflowpb.DetectIntentRequest) (*dialogflowpb.DetectIntentResponse, error)

// DialogflowDetector sends text to a Dialogflow ES agent and keeps only the
// fulfillment text of the query result.
type DialogflowDetector struct {
	projectID    string
	languageCode string
	detect       detectIntentFunc
	close        func() error
}

// NewDialogflowDetector builds a sessions client. credentialsFile may be empty,
// in which case application default credentials are used.
func NewDialogflowDetector(ctx context.Context, projectID, languageCode, credentialsFile string) (*DialogflowDetector, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, fmt.Errorf("dialogflow project id is required")
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		b, err := os.ReadFile(credentialsFile)
		if err != nil {
			return nil, fmt.Errorf("reading dialogflow credentials: %w", err)
		}
		creds, err := google.CredentialsFromJSON(ctx, b, dialogflow.DefaultAuthScopes()...)
		if err != nil {
			return nil, fmt.Errorf("parsing dialogflow credentials: %w", err)
		}
		opts = append(opts, option.WithCredentials(creds))
	}
	client, err := dialogflow.NewSessionsClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating dialogflow sessions client: %w", err)
	}
	d := newDialogflowDetector(projectID, languageCode, func(ctx context.Context, req *dialogflowpb.DetectIntentRequest) (*dialogflowpb.DetectIntentResponse, error) {
		return client.DetectIntent(ctx, req)
	})
	d.close = client.Close
	return d, nil
}

func newDialogflowDetector(projectID, languageCode string, detect detectIntentFunc) *DialogflowDetector {
	if languageCode == "" {
		languageCode = "en"
	}
	return &DialogflowDetector{
		projectID:    projectID,
		languageCode: languageCode,
		detect:       detect,
		close:        func() error { return nil },
	}
}

func (d *DialogflowDetector) Name() string { return "dialogflow" }

// SessionPath is the conversation handle for a relay session id.
func (d *DialogflowDetector) SessionPath(sessionID string) string {
	return fmt.Sprintf("projects/%s/agent/sessions/%s", d.projectID, sessionID)
}

func (d *DialogflowDetector) Detect(ctx context.Context, in Input) Result {
	req := &dialogflowpb.DetectIntentRequest{
		Session: d.SessionPath(in.SessionID),
		QueryInput: &dialogflowpb.QueryInput{
			Input: &dialogflowpb.QueryInput_Text{
				Text: &dialogflowpb.TextInput{
					Text:         in.Text,
					LanguageCode: d.languageCode,
				},
			},
		},
	}
	resp, err := d.detect(ctx, req)
	if err != nil {
		return Fail(fmt.Errorf("dialogflow detect intent: %w", err))
	}
	result := resp.GetQueryResult()
	if result == nil {
		return Fail(fmt.Errorf("dialogflow response has no query result"))
	}
	text := result.GetFulfillmentText()
	if strings.TrimSpace(text) == "" {
		return Fail(fmt.Errorf("dialogflow query result has no fulfillment text (intent %q)", result.GetIntent().GetDisplayName()))
	}
	return Succeed(text)
}

func (d *DialogflowDetector) Close() error {
	return d.close()
}
