package apiserver

import (
	"github.com/spf13/cobra"

	"github.com/openscms/auth-gateway/internal/business"
	"github.com/openscms/auth-gateway/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.CobraCommand(
		"api-server",
		"Auth Gateway API server",
		"Auth Gateway API server hosts the public sign-in and session REST API.",
		buildInfo,
		cmdutils.RunAsService,
		business.Main,
	)
}
