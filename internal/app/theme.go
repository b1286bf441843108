package app

import "github.com/charmbracelet/lipgloss"

const (
	chatBubblePaddingVertical   = 0
	chatBubblePaddingHorizontal = 1
)

var (
	headerStyle         = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	helpStyle           = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	statusStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	statusErrorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	activityStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("110")).Bold(true)
	dividerStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	userBubbleStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Background(lipgloss.Color("236")).Padding(chatBubblePaddingVertical, chatBubblePaddingHorizontal)
	agentBubbleStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("238")).Padding(chatBubblePaddingVertical, chatBubblePaddingHorizontal)
	systemBubbleStyle   = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("237")).Foreground(lipgloss.Color("245")).Padding(chatBubblePaddingVertical, chatBubblePaddingHorizontal)
	pendingCardStyle    = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("179")).Foreground(lipgloss.Color("230")).Padding(chatBubblePaddingVertical, chatBubblePaddingHorizontal)
	selectedCardStyle   = lipgloss.NewStyle().Border(lipgloss.ThickBorder()).BorderForeground(lipgloss.Color("214")).Foreground(lipgloss.Color("230")).Padding(chatBubblePaddingVertical, chatBubblePaddingHorizontal)
	acceptedCardStyle   = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("108")).Foreground(lipgloss.Color("251")).Padding(chatBubblePaddingVertical, chatBubblePaddingHorizontal)
	rejectedCardStyle   = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("239")).Foreground(lipgloss.Color("244")).Faint(true).Padding(chatBubblePaddingVertical, chatBubblePaddingHorizontal)
	cardTitleStyle      = lipgloss.NewStyle().Bold(true)
	chatMetaStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Faint(true)
	approveButtonStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("70")).Bold(true).Underline(true)
	declineButtonStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true).Underline(true)
	dialogueActiveStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("75")).Bold(true)
	dialogueStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
)
