package migrate

import (
	"github.com/spf13/cobra"

	"github.com/openscms/auth-gateway/internal/business"
	"github.com/openscms/auth-gateway/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.CobraCommand(
		"migrate",
		"Auth Gateway migrations",
		"Applies the identity-provider registry schema to the database.",
		buildInfo,
		cmdutils.RunAsJob,
		business.MigrateMain,
	)
}
