package housekeeper

import (
	"github.com/spf13/cobra"

	"github.com/openscms/auth-gateway/internal/business"
	"github.com/openscms/auth-gateway/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.CobraCommand(
		"housekeeper",
		"Auth Gateway housekeeping job",
		"Auth Gateway housekeeping job cleans up idle sessions and expired two-factor challenges.",
		buildInfo,
		cmdutils.RunAsService,
		business.HousekeeperMain,
	)
}
