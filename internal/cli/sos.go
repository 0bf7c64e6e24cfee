package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/whyfailclub/whyfail.go/contrib/community"
)

type sosResult struct {
	Incident community.SOSIncident     `json:"incident"`
	Contacts community.SupportContacts `json:"contacts"`
}

func NewSOSCommand(root *RootOptions) *cobra.Command {
	var req community.SOSRequest

	cmd := &cobra.Command{
		Use:   "sos",
		Short: "Ask for immediate support",
		Long: `Ask for immediate support.

The request is recorded for the moderation team and the crisis contacts
are printed. If you are in danger, call the emergency number now.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return root.run(cmd, func(ctx context.Context, a *app) error {
				incident, err := a.svc.RequestSupport(ctx, req)
				if err != nil {
					return err
				}
				res := sosResult{Incident: incident, Contacts: community.CrisisContacts()}
				return a.out.Print(res, func(w io.Writer) {
					fmt.Fprintf(w, "Support request %s recorded.\n\n", incident.ID)
					fmt.Fprintf(w, "Crisis hotline: %s\n", res.Contacts.CrisisHotline)
					fmt.Fprintf(w, "Crisis text line: %s\n", res.Contacts.TextLine)
					fmt.Fprintf(w, "Emergency: %s\n", res.Contacts.Emergency)
				})
			})
		},
	}
	cmd.Flags().StringVar(&req.IncidentType, "type", "support_request", "crisis, support_request or emergency")
	cmd.Flags().StringVar(&req.Severity, "severity", "", "low, medium, high or critical (default medium)")
	cmd.Flags().StringVar(&req.Description, "description", "", "what is going on")
	return cmd
}
